package tensor

import "math"

// DataType is the element precision a tensor is tagged with. Storage is always float64;
// Float32 tensors round every stored value through float32.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float64
)

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "float32":
		return Float32, true
	case "float64", "":
		return Float64, true
	}
	return Float64, false
}

func (dt DataType) round(v float64) float64 {
	if dt == Float32 && !math.IsNaN(v) {
		return float64(float32(v))
	}
	return v
}

// Device represents the compute device a tensor lives on.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	CUDA
	Metal
	WebGPU
	SDAA
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case Metal:
		return "metal"
	case WebGPU:
		return "webgpu"
	case SDAA:
		return "sdaa"
	default:
		return "unknown"
	}
}

// ParseDevice is the inverse of Device.String.
func ParseDevice(s string) (Device, bool) {
	for _, d := range []Device{CPU, CUDA, Metal, WebGPU, SDAA} {
		if d.String() == s {
			return d, true
		}
	}
	if s == "" {
		return CPU, true
	}
	return CPU, false
}

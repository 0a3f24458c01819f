package tensor

import (
	"sort"
	"sync"

	"go.viam.com/mvg/logging"
)

// Op names a linear-algebra primitive whose availability depends on dtype and device.
type Op string

// Primitives routed through Dispatch.
const (
	OpMatMul  Op = "matmul"
	OpSVD     Op = "svd"
	OpSolve   Op = "solve"
	OpEig     Op = "eig"
	OpInverse Op = "inverse"
)

// Capability says how a device runs an op for a dtype.
type Capability int

const (
	// Supported ops run where the operands live.
	Supported Capability = iota
	// EmulateViaHost ops have their operands staged to host memory, run there, and the result
	// copied back to the operands' device.
	EmulateViaHost
)

func (c Capability) String() string {
	if c == EmulateViaHost {
		return "emulate_via_host"
	}
	return "supported"
}

type capabilityKey struct {
	op     Op
	dtype  DataType
	device Device
}

// CapabilityEntry is one non-default row of a CapabilityTable.
type CapabilityEntry struct {
	Op         Op
	DType      DataType
	Device     Device
	Capability Capability
}

// CapabilityTable maps (op, dtype, device) to a Capability. Combinations not in the table
// are Supported.
type CapabilityTable struct {
	mu      sync.RWMutex
	entries map[capabilityKey]Capability
}

// NewCapabilityTable returns a table where everything is Supported.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{entries: map[capabilityKey]Capability{}}
}

// DefaultCapabilities returns the built-in policy: SDAA and WebGPU have no double precision
// matmul, and Metal has no double precision at all.
func DefaultCapabilities() *CapabilityTable {
	table := NewCapabilityTable()
	table.Set(OpMatMul, Float64, SDAA, EmulateViaHost)
	table.Set(OpMatMul, Float64, WebGPU, EmulateViaHost)
	for _, op := range []Op{OpMatMul, OpSVD, OpSolve, OpEig, OpInverse} {
		table.Set(op, Float64, Metal, EmulateViaHost)
	}
	return table
}

// Lookup returns how op runs for dtype on device. The host always supports everything.
func (t *CapabilityTable) Lookup(op Op, dtype DataType, device Device) Capability {
	if device == CPU {
		return Supported
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[capabilityKey{op, dtype, device}]
}

// Set records a capability. Setting Supported removes the entry.
func (t *CapabilityTable) Set(op Op, dtype DataType, device Device, c Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := capabilityKey{op, dtype, device}
	if c == Supported {
		delete(t.entries, key)
		return
	}
	t.entries[key] = c
}

// Entries lists the non-default rows ordered by device, op and dtype.
func (t *CapabilityTable) Entries() []CapabilityEntry {
	t.mu.RLock()
	out := make([]CapabilityEntry, 0, len(t.entries))
	for k, c := range t.entries {
		out = append(out, CapabilityEntry{Op: k.op, DType: k.dtype, Device: k.device, Capability: c})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		if out[i].Op != out[j].Op {
			return out[i].Op < out[j].Op
		}
		return out[i].DType < out[j].DType
	})
	return out
}

var (
	capabilitiesMu sync.RWMutex
	capabilities   = DefaultCapabilities()
)

// Capabilities returns the process wide capability table.
func Capabilities() *CapabilityTable {
	capabilitiesMu.RLock()
	defer capabilitiesMu.RUnlock()
	return capabilities
}

// ReplaceCapabilities swaps the process wide capability table and returns the previous one.
func ReplaceCapabilities(table *CapabilityTable) *CapabilityTable {
	capabilitiesMu.Lock()
	defer capabilitiesMu.Unlock()
	prev := capabilities
	capabilities = table
	return prev
}

// Kernel computes an op's outputs from its operands.
type Kernel func(args []*Dense) ([]*Dense, error)

// Dispatch runs kernel for op. The dtype and device of the call are those of the first
// operand; when the capability table says the combination is emulated, every operand is staged
// to the host and every output is copied back to the caller's device. Staging is never an error.
func Dispatch(op Op, kernel Kernel, args ...*Dense) ([]*Dense, error) {
	if len(args) == 0 {
		return kernel(args)
	}
	device := args[0].device
	dtype := args[0].dtype
	if Capabilities().Lookup(op, dtype, device) != EmulateViaHost {
		return kernel(args)
	}

	logging.Global().Sublogger("tensor").Debugw("staging op on host", "op", op, "dtype", dtype, "device", device)
	staged := make([]*Dense, len(args))
	for i, arg := range args {
		staged[i] = arg.To(CPU)
	}
	outs, err := kernel(staged)
	if err != nil {
		return nil, err
	}
	for i, out := range outs {
		outs[i] = out.To(device)
	}
	return outs, nil
}

// Package config defines the estimator configuration shared by the command line tools.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/mvg/homography"
	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
)

// An Estimator configures how two-view estimates are computed: the homography solver and its
// robust refinement, the tensor placement, and logging.
type Estimator struct {
	ConfigFilePath string `json:"-"`

	Solver              string  `json:"solver,omitempty"`
	Iterations          int     `json:"iterations,omitempty"`
	SoftInlierThreshold float64 `json:"soft_inlier_threshold,omitempty"`
	Eps                 float64 `json:"eps,omitempty"`

	Device   string `json:"device,omitempty"`
	DType    string `json:"dtype,omitempty"`
	LogLevel string `json:"log_level,omitempty"`

	Capabilities []CapabilityOverride `json:"capabilities,omitempty"`
}

// A CapabilityOverride changes one row of the tensor capability table.
type CapabilityOverride struct {
	Op         string `json:"op"`
	DType      string `json:"dtype,omitempty"`
	Device     string `json:"device"`
	Capability string `json:"capability"`
}

var knownOps = map[string]tensor.Op{
	string(tensor.OpMatMul):  tensor.OpMatMul,
	string(tensor.OpSVD):     tensor.OpSVD,
	string(tensor.OpSolve):   tensor.OpSolve,
	string(tensor.OpEig):     tensor.OpEig,
	string(tensor.OpInverse): tensor.OpInverse,
}

// Validate ensures all parts of the config are valid. Every problem is reported.
func (e *Estimator) Validate(path string) error {
	var allErrs error
	if _, err := homography.ParseSolver(e.Solver); err != nil {
		allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path, err))
	}
	if e.Iterations < 0 {
		allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path,
			errors.Errorf("iterations must not be negative, got %d", e.Iterations)))
	}
	if e.SoftInlierThreshold < 0 {
		allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path,
			errors.Errorf("soft_inlier_threshold must not be negative, got %v", e.SoftInlierThreshold)))
	}
	if e.Eps < 0 {
		allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path,
			errors.Errorf("eps must not be negative, got %v", e.Eps)))
	}
	if e.Device != "" {
		if _, ok := tensor.ParseDevice(e.Device); !ok {
			allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path,
				errors.Errorf("unknown device %q", e.Device)))
		}
	}
	if _, ok := tensor.ParseDataType(e.DType); !ok {
		allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path,
			errors.Errorf("unknown dtype %q", e.DType)))
	}
	if e.LogLevel != "" {
		if _, err := logging.LevelFromString(e.LogLevel); err != nil {
			allErrs = multierr.Append(allErrs, utils.NewConfigValidationError(path, err))
		}
	}
	for idx := range e.Capabilities {
		if _, err := e.Capabilities[idx].entry(fmt.Sprintf("%s.capabilities.%d", path, idx)); err != nil {
			allErrs = multierr.Append(allErrs, err)
		}
	}
	return allErrs
}

func (c *CapabilityOverride) entry(path string) (tensor.CapabilityEntry, error) {
	var entry tensor.CapabilityEntry
	if c.Op == "" {
		return entry, utils.NewConfigValidationFieldRequiredError(path, "op")
	}
	if c.Device == "" {
		return entry, utils.NewConfigValidationFieldRequiredError(path, "device")
	}
	op, ok := knownOps[c.Op]
	if !ok {
		return entry, utils.NewConfigValidationError(path, errors.Errorf("unknown op %q", c.Op))
	}
	device, ok := tensor.ParseDevice(c.Device)
	if !ok {
		return entry, utils.NewConfigValidationError(path, errors.Errorf("unknown device %q", c.Device))
	}
	dtype, ok := tensor.ParseDataType(c.DType)
	if !ok {
		return entry, utils.NewConfigValidationError(path, errors.Errorf("unknown dtype %q", c.DType))
	}
	var capability tensor.Capability
	switch c.Capability {
	case tensor.Supported.String():
		capability = tensor.Supported
	case tensor.EmulateViaHost.String():
		capability = tensor.EmulateViaHost
	default:
		return entry, utils.NewConfigValidationError(path, errors.Errorf("unknown capability %q", c.Capability))
	}
	return tensor.CapabilityEntry{Op: op, DType: dtype, Device: device, Capability: capability}, nil
}

// Refiner returns the homography refinement settings, with defaults for unset fields.
func (e *Estimator) Refiner() homography.Refiner {
	r := homography.DefaultRefiner()
	if solver, err := homography.ParseSolver(e.Solver); err == nil {
		r.Solver = solver
	}
	if e.Iterations > 0 {
		r.Iterations = e.Iterations
	}
	if e.SoftInlierThreshold > 0 {
		r.SoftInlierThreshold = e.SoftInlierThreshold
	}
	return r
}

// Epsilon returns the configured numerical guard or fallback when unset.
func (e *Estimator) Epsilon(fallback float64) float64 {
	if e.Eps > 0 {
		return e.Eps
	}
	return fallback
}

// TensorOptions returns the dtype and device that input tensors are created with.
func (e *Estimator) TensorOptions() []tensor.Option {
	dtype, _ := tensor.ParseDataType(e.DType)
	device, ok := tensor.ParseDevice(e.Device)
	if !ok {
		device = tensor.CPU
	}
	return []tensor.Option{tensor.WithDType(dtype), tensor.WithDevice(device)}
}

// CapabilityTable returns the default capability table with the overrides applied in order.
func (e *Estimator) CapabilityTable() (*tensor.CapabilityTable, error) {
	table := tensor.DefaultCapabilities()
	for idx := range e.Capabilities {
		entry, err := e.Capabilities[idx].entry(fmt.Sprintf("capabilities.%d", idx))
		if err != nil {
			return nil, err
		}
		table.Set(entry.Op, entry.DType, entry.Device, entry.Capability)
	}
	return table, nil
}

// Level returns the configured log level, INFO when unset.
func (e *Estimator) Level() logging.Level {
	level, err := logging.LevelFromString(e.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

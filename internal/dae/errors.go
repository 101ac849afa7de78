package dae

import (
	"errors"
	"fmt"
)

// Sentinel errors for the simulation pipeline. Typed errors below wrap these
// so callers can branch with errors.Is while still reading the context fields.
var (
	// ErrConfiguration indicates a bad mesh, point count, or domain name.
	ErrConfiguration = errors.New("celldyn: invalid configuration")

	// ErrDiscretisation indicates an operator applied to a mismatched grid.
	ErrDiscretisation = errors.New("celldyn: discretisation failure")

	// ErrModel indicates an inconsistent system of equations.
	ErrModel = errors.New("celldyn: model inconsistency")

	// ErrSolver indicates a solve failure or misuse of the solver bridge.
	ErrSolver = errors.New("celldyn: solver failure")

	// ErrUnsupported indicates a differentiation or batching direction the
	// bridge does not implement.
	ErrUnsupported = errors.New("celldyn: unsupported operation")
)

// ConfigurationError reports a bad geometry, mesh, or point-count setting.
type ConfigurationError struct {
	Domain string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Domain == "" {
		return fmt.Sprintf("configuration: %s", e.Reason)
	}
	return fmt.Sprintf("configuration: domain %q: %s", e.Domain, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DiscretisationError reports an operator/grid mismatch.
type DiscretisationError struct {
	Op     string
	Domain string
	Reason string
}

func (e *DiscretisationError) Error() string {
	return fmt.Sprintf("discretisation: %s on domain %q: %s", e.Op, e.Domain, e.Reason)
}

func (e *DiscretisationError) Unwrap() error { return ErrDiscretisation }

// ModelError reports an equation/variable consistency failure during assembly.
type ModelError struct {
	Variable string
	Reason   string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model: variable %q: %s", e.Variable, e.Reason)
}

func (e *ModelError) Unwrap() error { return ErrModel }

// SolverError reports a solve failure, or misuse of the differentiable
// bridge (uninitialised access, empty output set). LastTime is the last time
// the stepper completed successfully, or zero when stepping never started.
type SolverError struct {
	LastTime float64
	Reason   string
}

func (e *SolverError) Error() string {
	if e.LastTime > 0 {
		return fmt.Sprintf("solver: %s (last successful time %g)", e.Reason, e.LastTime)
	}
	return fmt.Sprintf("solver: %s", e.Reason)
}

func (e *SolverError) Unwrap() error { return ErrSolver }

// UnsupportedError reports a differentiation or batching direction that the
// solver-backed expression cannot provide.
type UnsupportedError struct {
	Op string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported: %s", e.Op)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

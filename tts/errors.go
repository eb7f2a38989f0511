package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors for the speech system.
var (
	// Manager errors
	ErrEngineLoaded    = errors.New("engine is already loaded")
	ErrEngineNotLoaded = errors.New("engine has not been loaded")

	// Lifecycle reasons, matched by EngineError.Is
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNoRuntime      = errors.New("engine runtime unavailable")
	ErrNoModel        = errors.New("no model available")
	ErrDisabled       = errors.New("engine disabled")
	ErrUnexpectedFail = errors.New("engine failed unexpectedly")

	// Request reasons, matched by Rejection.Is
	ErrDead   = errors.New("engine is not alive")
	ErrReject = errors.New("voice not supported")
)

// EngineErrorReason identifies why an engine failed to start.
type EngineErrorReason string

const (
	ReasonAlreadyStarted  EngineErrorReason = "ALREADY_STARTED"
	ReasonNoRuntime       EngineErrorReason = "NO_RUNTIME"
	ReasonNoModel         EngineErrorReason = "NO_MODEL"
	ReasonDisabled        EngineErrorReason = "DISABLED"
	ReasonUnexpectedFail  EngineErrorReason = "UNEXPECTED_FAIL"
	ReasonMultipleReasons EngineErrorReason = "MULTIPLE_REASONS"
)

// EngineError is a lifecycle failure reported by Engine.Start.
type EngineError struct {
	Reason   EngineErrorReason
	Engine   string
	Err      error
	Children []*EngineError
}

// NewEngineError creates an EngineError for engine with an optional cause.
func NewEngineError(reason EngineErrorReason, engine string, cause error) *EngineError {
	return &EngineError{Reason: reason, Engine: engine, Err: cause}
}

// MultipleEngineErrors wraps several start failures of one engine.
func MultipleEngineErrors(engine string, children ...*EngineError) *EngineError {
	return &EngineError{Reason: ReasonMultipleReasons, Engine: engine, Children: children}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Engine, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Children) > 0 {
		b.WriteString(" [")
		for i, c := range e.Children {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Error())
		}
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches the lifecycle sentinel errors by reason.
func (e *EngineError) Is(target error) bool {
	switch e.Reason {
	case ReasonAlreadyStarted:
		return target == ErrAlreadyStarted
	case ReasonNoRuntime:
		return target == ErrNoRuntime
	case ReasonNoModel:
		return target == ErrNoModel
	case ReasonDisabled:
		return target == ErrDisabled
	case ReasonUnexpectedFail:
		return target == ErrUnexpectedFail
	case ReasonMultipleReasons:
		for _, c := range e.Children {
			if errors.Is(c, target) {
				return true
			}
		}
	}
	return false
}

// IsFatal reports whether the failure indicates something broken rather than
// an expected absence of runtime or configuration.
func (e *EngineError) IsFatal() bool {
	switch e.Reason {
	case ReasonAlreadyStarted, ReasonNoRuntime, ReasonDisabled:
		return false
	case ReasonMultipleReasons:
		for _, c := range e.Children {
			if c.IsFatal() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Flatten returns the leaf errors, expanding MULTIPLE_REASONS.
func (e *EngineError) Flatten() []*EngineError {
	if e.Reason != ReasonMultipleReasons {
		return []*EngineError{e}
	}
	var out []*EngineError
	for _, c := range e.Children {
		out = append(out, c.Flatten()...)
	}
	return out
}

// AsEngineError converts err into an EngineError, wrapping unknown errors as
// UNEXPECTED_FAIL.
func AsEngineError(engine string, err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return NewEngineError(ReasonUnexpectedFail, engine, err)
}

// RejectionReason identifies why a request was refused.
type RejectionReason string

const (
	RejectDead     RejectionReason = "DEAD"
	RejectVoice    RejectionReason = "REJECT"
	RejectMultiple RejectionReason = "MULTIPLE"
)

// Rejection is a per-request soft failure. It causes the manager to try the
// next engine.
type Rejection struct {
	Reason   RejectionReason
	Engine   string
	Children []*Rejection
}

// Dead rejects a request because engine is not alive.
func Dead(engine string) *Rejection {
	return &Rejection{Reason: RejectDead, Engine: engine}
}

// Reject rejects a request because engine cannot speak the voice.
func Reject(engine string) *Rejection {
	return &Rejection{Reason: RejectVoice, Engine: engine}
}

// Multiple aggregates the rejections of several engines in order.
func Multiple(children ...*Rejection) *Rejection {
	return &Rejection{Reason: RejectMultiple, Children: children}
}

// Error implements the error interface
func (r *Rejection) Error() string {
	if r.Reason != RejectMultiple {
		return fmt.Sprintf("%s: %s", r.Engine, r.Reason)
	}
	parts := make([]string, 0, len(r.Children))
	for _, c := range r.Children {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("%s [%s]", r.Reason, strings.Join(parts, "; "))
}

// Is matches ErrDead and ErrReject.
func (r *Rejection) Is(target error) bool {
	switch r.Reason {
	case RejectDead:
		return target == ErrDead
	case RejectVoice:
		return target == ErrReject
	}
	return false
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

package tts

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func TestEngineErrorIs(t *testing.T) {
	cause := errors.New("exec: piper: not found")
	tests := []struct {
		name  string
		err   *EngineError
		is    []error
		isNot []error
		fatal bool
	}{
		{
			name:  "no runtime",
			err:   NewEngineError(ReasonNoRuntime, "piper", cause),
			is:    []error{ErrNoRuntime, cause},
			isNot: []error{ErrNoModel, ErrDisabled},
		},
		{
			name:  "no model is fatal",
			err:   NewEngineError(ReasonNoModel, "piper", nil),
			is:    []error{ErrNoModel},
			isNot: []error{ErrNoRuntime},
			fatal: true,
		},
		{
			name: "disabled",
			err:  NewEngineError(ReasonDisabled, "system", ErrDisabled),
			is:   []error{ErrDisabled},
		},
		{
			name: "already started",
			err:  NewEngineError(ReasonAlreadyStarted, "system", nil),
			is:   []error{ErrAlreadyStarted},
		},
		{
			name: "multiple",
			err: MultipleEngineErrors("piper",
				NewEngineError(ReasonNoRuntime, "piper", nil),
				NewEngineError(ReasonUnexpectedFail, "piper", cause),
			),
			is:    []error{ErrNoRuntime, ErrUnexpectedFail},
			isNot: []error{ErrNoModel},
			fatal: true,
		},
		{
			name:  "multiple expected absences",
			err:   MultipleEngineErrors("piper", NewEngineError(ReasonDisabled, "piper", nil)),
			is:    []error{ErrDisabled},
			fatal: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.is {
				if !errors.Is(tt.err, target) {
					t.Errorf("errors.Is(%v, %v) = false", tt.err, target)
				}
			}
			for _, target := range tt.isNot {
				if errors.Is(tt.err, target) {
					t.Errorf("errors.Is(%v, %v) = true", tt.err, target)
				}
			}
			if got := tt.err.IsFatal(); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestEngineErrorMessage(t *testing.T) {
	err := MultipleEngineErrors("piper",
		NewEngineError(ReasonNoModel, "piper", nil),
		NewEngineError(ReasonUnexpectedFail, "piper", errors.New("boom")),
	)
	want := "piper: MULTIPLE_REASONS [piper: NO_MODEL; piper: UNEXPECTED_FAIL: boom]"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEngineErrorFlatten(t *testing.T) {
	leaf1 := NewEngineError(ReasonNoModel, "a", nil)
	leaf2 := NewEngineError(ReasonNoRuntime, "a", nil)
	leaf3 := NewEngineError(ReasonDisabled, "a", nil)
	err := MultipleEngineErrors("a", leaf1, MultipleEngineErrors("a", leaf2, leaf3))

	got := err.Flatten()
	if !slices.Equal(got, []*EngineError{leaf1, leaf2, leaf3}) {
		t.Errorf("Flatten() = %v", got)
	}
	if got := leaf1.Flatten(); len(got) != 1 || got[0] != leaf1 {
		t.Errorf("leaf Flatten() = %v", got)
	}
}

func TestAsEngineError(t *testing.T) {
	if AsEngineError("x", nil) != nil {
		t.Error("AsEngineError(nil) != nil")
	}

	ee := NewEngineError(ReasonNoModel, "piper", nil)
	if got := AsEngineError("other", fmt.Errorf("start: %w", ee)); got != ee {
		t.Errorf("AsEngineError(wrapped) = %v, want the wrapped error", got)
	}

	got := AsEngineError("system", errors.New("boom"))
	if got.Reason != ReasonUnexpectedFail || got.Engine != "system" || !errors.Is(got, ErrUnexpectedFail) {
		t.Errorf("AsEngineError(plain) = %+v", got)
	}
}

func TestRejection(t *testing.T) {
	dead := Dead("piper")
	reject := Reject("system")

	if !errors.Is(dead, ErrDead) || errors.Is(dead, ErrReject) {
		t.Errorf("Dead() matches wrong sentinel")
	}
	if !errors.Is(reject, ErrReject) || errors.Is(reject, ErrDead) {
		t.Errorf("Reject() matches wrong sentinel")
	}

	all := Multiple(dead, reject)
	if got := all.Error(); got != "MULTIPLE [piper: DEAD; system: REJECT]" {
		t.Errorf("Multiple().Error() = %q", got)
	}
	if errors.Is(all, ErrDead) {
		t.Error("aggregate rejection matches ErrDead")
	}

	r, ok := AsRejection(fmt.Errorf("generate: %w", reject))
	if !ok || r != reject {
		t.Errorf("AsRejection() = %v, %v", r, ok)
	}
	if _, ok := AsRejection(errors.New("boom")); ok {
		t.Error("AsRejection(plain) ok")
	}
	if !strings.Contains(dead.Error(), "DEAD") {
		t.Errorf("Dead().Error() = %q", dead.Error())
	}
}

// Package apperr classifies errors surfaced by the oven so callers can map
// them to a response without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Unknown            Kind = "unknown"
	NotFound           Kind = "not_found"
	Validation         Kind = "validation"
	ExternalAPI        Kind = "external_api"
	Transport          Kind = "transport"
	Persistence        Kind = "persistence"
	SchedulerIsolation Kind = "scheduler_isolation"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

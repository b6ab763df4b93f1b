// Package failure tags errors with the retry decision the workflow engine
// acts on. The tag is attached where the error is raised and read back by
// the dispatcher; it is never changed on the way up.
package failure

import (
	"errors"
	"fmt"
)

// Kind says whether an error ends the job or is worth another invocation.
type Kind int

const (
	// Transient errors leave the workflow running so the engine re-invokes.
	Transient Kind = iota
	// Fatal errors fail the job and stop the workflow.
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatalf builds a fatal error.
func Fatalf(format string, args ...any) error {
	return &Error{Kind: Fatal, Err: fmt.Errorf(format, args...)}
}

// Transientf builds a transient error.
func Transientf(format string, args ...any) error {
	return &Error{Kind: Transient, Err: fmt.Errorf(format, args...)}
}

// AsFatal tags err as fatal. A nil err stays nil.
func AsFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Fatal, Err: err}
}

// AsTransient tags err as transient. A nil err stays nil.
func AsTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Transient, Err: err}
}

// KindOf returns the outermost tag in err's chain. Untagged errors are
// transient.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return Transient
}

// IsFatal reports whether err is tagged fatal.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == Fatal
}

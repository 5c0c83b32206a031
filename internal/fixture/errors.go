package fixture

import (
	"errors"
	"fmt"
)

// AcquireError reports that the browser, context or page could not be set
// up. The interaction never ran.
type AcquireError struct {
	Stage string
	Err   error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Stage, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// IsAcquireError reports whether err happened before the interaction ran.
func IsAcquireError(err error) bool {
	var ae *AcquireError
	return errors.As(err, &ae)
}

// PanicError is an interaction that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("interaction panicked: %v", e.Value)
}

// errAborted stands in for an interaction that exited its goroutine, for
// example through t.FailNow.
var errAborted = errors.New("interaction aborted")

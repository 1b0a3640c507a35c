package bridge

import (
	"errors"
	"fmt"

	"github.com/polisai/polis-broker/pkg/automation"
)

// ErrInvalidHandle indicates the engine accepted an open request but returned
// a handle that cannot refer to a live subscription
var ErrInvalidHandle = errors.New("engine returned invalid handle")

// InvalidHandleError carries the rejected handle value
type InvalidHandleError struct {
	Handle automation.Handle
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("engine returned invalid handle %d", e.Handle)
}

func (e *InvalidHandleError) Is(target error) bool {
	return target == ErrInvalidHandle
}

// IsInvalidHandle checks if the error indicates an unusable engine handle
func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

package scheduler

import "fmt"

// CycleError captures a failed cycle. It is logged and never stops the loop.
type CycleError struct {
	Op  string
	Err error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func wrapCycle(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CycleError{Op: op, Err: err}
}

package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError — источник попросил подождать. Шлюз повторяет вызов
// через RetryAfter.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ErrRegistryBusy — файл реестра занят другой записью.
var ErrRegistryBusy = errors.New("artifact registry is busy")

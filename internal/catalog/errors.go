package catalog

import (
	"errors"
	"fmt"
	"time"
)

// ErrGateUnavailable — инфраструктурный сбой gate после исчерпания бюджета
// ретраев. Не тратит попытку валидации, а валит сессию в FAILED.
var ErrGateUnavailable = errors.New("catalog gate unavailable")

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrUnexpectedStatus = errors.New("connectors: unexpected upstream status")
	ErrSubscriptionLost = errors.New("connectors: subscription closed")
)

// ThrottleError — апстрим попросил подождать (429 / 503 с Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d", ErrUnexpectedStatus, e.Endpoint, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Temporary: имеет ли смысл повторять запрос.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// parseRetryAfter понимает оба формата заголовка: секунды и HTTP-дату.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return time.Second
}

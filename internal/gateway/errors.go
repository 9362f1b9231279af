package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies gateway failures so callers can apply the right recovery policy.
type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindPostOnlyRejected ErrorKind = "post_only_rejected"
	KindRateLimited      ErrorKind = "rate_limited"
	KindInsufficientSize ErrorKind = "insufficient_size"
	KindTransient        ErrorKind = "transient"
	KindPermanent        ErrorKind = "permanent"
)

// Error wraps an exchange failure with its recovery classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(e.classify())
	}
	return e.Err.Error()
}

func (e *Error) classify() ErrorKind {
	if e == nil {
		return KindPermanent
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps a raw exchange/network error to an ErrorKind by matching the Binance
// error codes and message fragments each failure mode surfaces as.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "signature") || strings.Contains(msg, "invalid api-key"):
		return &Error{Kind: KindAuth, Err: err}
	case strings.Contains(msg, "would immediately match") || strings.Contains(msg, "post only") || strings.Contains(msg, "-2010") || strings.Contains(msg, "-5022"):
		return &Error{Kind: KindPostOnlyRejected, Err: err}
	case strings.Contains(msg, "too many requests") || strings.Contains(msg, "-1003") || strings.Contains(msg, "429"):
		return &Error{Kind: KindRateLimited, Err: err}
	case strings.Contains(msg, "quantity less than") || strings.Contains(msg, "min notional") || strings.Contains(msg, "-1013"):
		return &Error{Kind: KindInsufficientSize, Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "temporary") || errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Err: err}
	default:
		return &Error{Kind: KindPermanent, Err: err}
	}
}

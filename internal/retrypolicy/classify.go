// internal/retrypolicy/classify.go
package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass buckets a runtime failure into the taxonomy the control loop
// uses to decide whether a retry is worth attempting.
type ErrorClass string

const (
	ClassTransient         ErrorClass = "TRANSIENT"          // Connectivity or transport hiccups. Retryable.
	ClassTimeout           ErrorClass = "TIMEOUT"            // An operation exceeded its deadline. Retryable.
	ClassResourceExhausted ErrorClass = "RESOURCE_EXHAUSTED" // Quotas, rate limits, out-of-budget conditions.
	ClassValidation        ErrorClass = "VALIDATION"         // Bad arguments or violated preconditions. Never retried.
	ClassPermanent         ErrorClass = "PERMANENT"          // Everything else. Never retried.
)

// Sentinel errors used by callers to mark failures that classification must
// treat as caller mistakes rather than environmental conditions.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrPrecondition      = errors.New("precondition failed")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ClassifiedError couples an underlying error with its class so downstream
// consumers (the dispatch boundary, the trace) do not re-run classification.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Wrap classifies err and returns it as a *ClassifiedError. Already-classified
// errors pass through unchanged.
func Wrap(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{Class: Classify(err), Err: err}
}

// transientKeywords flags transport-flavored failures whose concrete type got
// flattened into a message somewhere along the way. Heuristic, same spirit as
// the browser error parser.
var transientKeywords = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"timeout",
	"temporarily unavailable",
	"eof",
}

// Classify maps an arbitrary error onto the retry taxonomy.
//
// Order matters: a net.Error that reports Timeout() is a Timeout even though
// its message would also match the transient keyword list.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrPrecondition) {
		return ClassValidation
	}
	if errors.Is(err, ErrResourceExhausted) {
		return ClassResourceExhausted
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return ClassTransient
		}
	}

	return ClassPermanent
}

// Retryable reports whether the class is worth another attempt. Only
// environmental failures qualify; validation mistakes repeat identically.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassTimeout
}

// Package failure classifies errors raised while producing and publishing
// posts, so the dispatcher can decide between retrying and giving up.
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class tells whether retrying can help.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Source names the layer that produced an error.
type Source string

const (
	SourceConfig   Source = "config"
	SourceProvider Source = "provider"
	SourcePublish  Source = "publish"
)

// Reason values stored on failed posts and attempt records.
const (
	ReasonRateLimited         = "rate_limited"
	ReasonInvalidTemplate     = "invalid_template"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonAuth                = "auth"
	ReasonRejected            = "content_rejected"
	ReasonUnsupported         = "unsupported_content"
	ReasonNetwork             = "network"
	ReasonTimeout             = "timeout"
	ReasonUpstream            = "upstream_error"
	ReasonCircuitOpen         = "circuit_open"
	ReasonMissingAccount      = "missing_account"
	ReasonMissingTemplate     = "missing_template"
	ReasonMissingTheme        = "missing_theme"
	ReasonUnknownPlatform     = "unknown_platform"
	ReasonMissingCredentials  = "missing_credentials"
	ReasonRetriesExhausted    = "retries_exhausted"
	ReasonPanic               = "panic"
	ReasonUnknown             = "unknown"
)

// Error is a classified error. RetryAfter carries a server hint when one
// was given (HTTP Retry-After).
type Error struct {
	Source     Source
	Class      Class
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Source) + " " + e.Class.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Config reports bad or missing configuration. Always permanent.
func Config(reason string, format string, args ...any) error {
	return &Error{Source: SourceConfig, Class: Permanent, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Provider wraps a content-provider failure.
func Provider(class Class, reason string, err error) error {
	return &Error{Source: SourceProvider, Class: class, Reason: reason, Err: err}
}

// Publish wraps a platform publish failure.
func Publish(class Class, reason string, err error) error {
	return &Error{Source: SourcePublish, Class: class, Reason: reason, Err: err}
}

// WithRetryAfter attaches a retry hint to a classified error.
func WithRetryAfter(err error, after time.Duration) error {
	var fe *Error
	if !errors.As(err, &fe) || after <= 0 {
		return err
	}
	cp := *fe
	cp.RetryAfter = after
	return &cp
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsPermanent reports whether err must not be retried. Unclassified errors
// are transient; a deadline hit is always transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	fe, ok := As(err)
	return ok && fe.Class == Permanent
}

// ReasonOf returns the recorded reason for err.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	if fe, ok := As(err); ok && fe.Reason != "" {
		return fe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnknown
}

// SourceOf returns the layer that raised err, or "" when unclassified.
func SourceOf(err error) Source {
	if fe, ok := As(err); ok {
		return fe.Source
	}
	return ""
}

// RetryAfterHint returns the server-provided delay, if any.
func RetryAfterHint(err error) time.Duration {
	if fe, ok := As(err); ok {
		return fe.RetryAfter
	}
	return 0
}

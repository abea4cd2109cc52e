// Package httpx is the shared JSON-over-HTTP client used by the language
// model clients and the platform publishers, plus the mapping from HTTP
// outcomes to classified failures.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autopost/internal/failure"
)

// maxErrorBody caps how much of a failed response is kept in errors.
const maxErrorBody = 512

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "unexpected status " + e.Status
	}
	return "unexpected status " + e.Status + ": " + e.Body
}

// NewClient returns an http.Client with the given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Request describes one call. At most one of JSON and Form is set.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	JSON   any
	Form   url.Values
}

// Do sends r and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses return *StatusError.
func Do(ctx context.Context, client *http.Client, r Request, out any) error {
	if client == nil {
		client = NewClient(0)
	}
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	target := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.JSON != nil:
		payload, err := json.Marshal(r.JSON)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	case r.Form != nil:
		body, contentType = strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Code:       resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Unknown or past values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Wrap builds a classified error for one layer (failure.Provider or
// failure.Publish).
type Wrap func(class failure.Class, reason string, err error) error

// Classify turns the result of Do into a classified error.
//
//   - 429: transient rate_limited (Retry-After kept)
//   - 408, 5xx: transient upstream_error
//   - 401, 403: permanent auth
//   - other 4xx: permanent, with rejectReason
//   - deadline or net timeout: transient timeout
//   - other transport errors: transient network
func Classify(err error, wrap Wrap, rejectReason string) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return failure.WithRetryAfter(wrap(failure.Transient, failure.ReasonRateLimited, err), se.RetryAfter)
		case se.Code == http.StatusRequestTimeout || se.Code >= 500:
			return failure.WithRetryAfter(wrap(failure.Transient, failure.ReasonUpstream, err), se.RetryAfter)
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return wrap(failure.Permanent, failure.ReasonAuth, err)
		default:
			return wrap(failure.Permanent, rejectReason, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(failure.Transient, failure.ReasonTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return wrap(failure.Transient, failure.ReasonTimeout, err)
	}
	return wrap(failure.Transient, failure.ReasonNetwork, err)
}

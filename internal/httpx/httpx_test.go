package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autopost/internal/failure"
)

func TestDoDecodesJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("headers = %v", r.Header)
		}
		if r.URL.Query().Get("a") != "1" {
			t.Errorf("query = %v", r.URL.RawQuery)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["text"]})
	}))
	defer srv.Close()

	var out struct{ Echo string }
	err := Do(context.Background(), srv.Client(), Request{
		URL:    srv.URL,
		Header: http.Header{"Authorization": {"Bearer k"}},
		Query:  map[string][]string{"a": {"1"}},
		JSON:   map[string]string{"text": "hi"},
	}, &out)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Echo != "hi" {
		t.Fatalf("echo = %q", out.Echo)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantClass  failure.Class
		wantReason string
		wantHint   time.Duration
	}{
		{name: "rate limited", status: 429, retryAfter: "30", wantClass: failure.Transient, wantReason: failure.ReasonRateLimited, wantHint: 30 * time.Second},
		{name: "server error", status: 503, wantClass: failure.Transient, wantReason: failure.ReasonUpstream},
		{name: "unauthorized", status: 401, wantClass: failure.Permanent, wantReason: failure.ReasonAuth},
		{name: "forbidden", status: 403, wantClass: failure.Permanent, wantReason: failure.ReasonAuth},
		{name: "bad request", status: 400, wantClass: failure.Permanent, wantReason: failure.ReasonRejected},
		{name: "unprocessable", status: 422, wantClass: failure.Permanent, wantReason: failure.ReasonRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := Classify(Do(context.Background(), srv.Client(), Request{URL: srv.URL}, nil), failure.Publish, failure.ReasonRejected)
			fe, ok := failure.As(err)
			if !ok {
				t.Fatalf("err = %v, want classified", err)
			}
			if fe.Class != tt.wantClass || fe.Reason != tt.wantReason || fe.RetryAfter != tt.wantHint {
				t.Fatalf("got %s/%s/%v", fe.Class, fe.Reason, fe.RetryAfter)
			}
			if fe.Source != failure.SourcePublish {
				t.Fatalf("source = %s", fe.Source)
			}
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err := Classify(Do(ctx, nil, Request{URL: "http://127.0.0.1:1"}, nil), failure.Provider, failure.ReasonInvalidTemplate)
	if failure.IsPermanent(err) || failure.ReasonOf(err) != failure.ReasonTimeout {
		t.Fatalf("deadline: %v", err)
	}

	err = Classify(Do(context.Background(), nil, Request{URL: "http://127.0.0.1:1"}, nil), failure.Provider, failure.ReasonInvalidTemplate)
	if failure.IsPermanent(err) || failure.ReasonOf(err) != failure.ReasonNetwork {
		t.Fatalf("refused: %v", err)
	}

	if got := Classify(context.Canceled, failure.Provider, ""); !errors.Is(got, context.Canceled) {
		t.Fatalf("canceled: %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if got := ParseRetryAfter("120", now); got != 2*time.Minute {
		t.Fatalf("seconds = %v", got)
	}
	if got := ParseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now); got != time.Minute {
		t.Fatalf("date = %v", got)
	}
	for _, v := range []string{"", "-3", "soon", now.Add(-time.Minute).Format(http.TimeFormat)} {
		if got := ParseRetryAfter(v, now); got != 0 {
			t.Fatalf("ParseRetryAfter(%q) = %v", v, got)
		}
	}
}

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	logx "autopost/pkg/logx"
)

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServesMetricsAndHealth(t *testing.T) {
	t.Parallel()
	var unhealthy atomic.Bool
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("autopost_up 1\n"))
	})
	health := func() error {
		if unhealthy.Load() {
			return errors.New("scheduler stalled")
		}
		return nil
	}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, metrics, health, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addr, err := s.Addr(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if code, body := get(t, URL(addr, ""), "s3cret"); code != http.StatusOK || body != "autopost_up 1\n" {
		t.Fatalf("metrics = %d %q", code, body)
	}
	if code, _ := get(t, URL(addr, ""), ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated metrics = %d", code)
	}
	if code, _ := get(t, "http://"+addr+"/healthz", "s3cret"); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	unhealthy.Store(true)
	if code, body := get(t, "http://"+addr+"/healthz", "s3cret"); code != http.StatusServiceUnavailable || body != "scheduler stalled\n" {
		t.Fatalf("unhealthy healthz = %d %q", code, body)
	}
	if code, _ := get(t, "http://"+addr+pprofPrefix, "s3cret"); code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.5:9464":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		permanent bool
		reason    string
		source    Source
	}{
		{name: "config", err: Config(ReasonMissingAccount, "account %q not found", "a"), permanent: true, reason: ReasonMissingAccount, source: SourceConfig},
		{name: "provider transient", err: Provider(Transient, ReasonRateLimited, errors.New("429")), reason: ReasonRateLimited, source: SourceProvider},
		{name: "publish permanent", err: Publish(Permanent, ReasonAuth, errors.New("401")), permanent: true, reason: ReasonAuth, source: SourcePublish},
		{name: "wrapped", err: fmt.Errorf("dispatch: %w", Publish(Permanent, ReasonRejected, nil)), permanent: true, reason: ReasonRejected, source: SourcePublish},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), reason: ReasonTimeout},
		{name: "plain", err: errors.New("connection reset"), reason: ReasonUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := ReasonOf(tt.err); got != tt.reason {
				t.Fatalf("ReasonOf = %q, want %q", got, tt.reason)
			}
			if got := SourceOf(tt.err); got != tt.source {
				t.Fatalf("SourceOf = %q, want %q", got, tt.source)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()
	base := Publish(Transient, ReasonRateLimited, errors.New("slow down"))
	err := WithRetryAfter(base, 90*time.Second)
	if got := RetryAfterHint(fmt.Errorf("x: %w", err)); got != 90*time.Second {
		t.Fatalf("RetryAfterHint = %v", got)
	}
	if RetryAfterHint(base) != 0 {
		t.Fatal("original error must stay unchanged")
	}
	plain := errors.New("plain")
	if WithRetryAfter(plain, time.Second) != plain {
		t.Fatal("unclassified errors pass through")
	}
}

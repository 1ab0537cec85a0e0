package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
	sttmock "github.com/MrWong99/cuecard/pkg/provider/stt/mock"
)

var streamCfg = stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}

func TestSTTFallback_StartStream(t *testing.T) {
	t.Parallel()

	down := errors.New("dial: connection refused")
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		wantPrimary   int
		wantSecondary int
		wantReason    stt.Reason
		wantNilHandle bool
	}{
		{name: "primary ok", wantPrimary: 1},
		{name: "failover", primaryErr: down, wantPrimary: 1, wantSecondary: 1},
		{
			name:       "all fail",
			primaryErr: down, secondaryErr: down,
			wantPrimary: 1, wantSecondary: 1,
			wantReason: stt.ReasonServiceUnavailable, wantNilHandle: true,
		},
		{
			name:        "permission denied is not failed over",
			primaryErr:  &stt.StreamError{Reason: stt.ReasonPermissionDenied, Err: errors.New("401")},
			wantPrimary: 1, wantReason: stt.ReasonPermissionDenied, wantNilHandle: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &sttmock.Provider{StartStreamErr: tc.primaryErr}
			secondary := &sttmock.Provider{StartStreamErr: tc.secondaryErr}
			fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("backup", secondary)

			h, err := fb.StartStream(context.Background(), streamCfg)
			if got := stt.ReasonOf(err); got != tc.wantReason {
				t.Errorf("reason = %q (err %v), want %q", got, err, tc.wantReason)
			}
			if (h == nil) != tc.wantNilHandle {
				t.Errorf("handle = %v, want nil=%v", h, tc.wantNilHandle)
			}
			if h != nil {
				_ = h.Close()
			}
			if n := primary.StartStreamCallCount(); n != tc.wantPrimary {
				t.Errorf("primary calls = %d, want %d", n, tc.wantPrimary)
			}
			if n := secondary.StartStreamCallCount(); n != tc.wantSecondary {
				t.Errorf("secondary calls = %d, want %d", n, tc.wantSecondary)
			}
		})
	}
}

func TestSTTFallback_PassesConfig(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	h, err := fb.StartStream(context.Background(), streamCfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	got := primary.StartStreamCalls[0].Cfg
	if got.SampleRate != streamCfg.SampleRate || got.Language != streamCfg.Language {
		t.Errorf("cfg = %+v, want %+v", got, streamCfg)
	}
}

func TestSTTFallback_Check(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: errors.New("down")}
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if err := fb.Check(context.Background()); err != nil {
		t.Fatalf("Check before failures: %v", err)
	}
	_, _ = fb.StartStream(context.Background(), streamCfg)
	if err := fb.Check(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Check = %v, want ErrCircuitOpen", err)
	}
}

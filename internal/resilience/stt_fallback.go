package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// recognition backends, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. Cancellation and refused credentials are not failed over: the
// next backend would see the same context, and a permission problem is for
// the reader to fix.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = permanentSTTError
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func permanentSTTError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return stt.ReasonOf(err) == stt.ReasonPermissionDenied
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a stream on the first backend that accepts it. When all
// backends fail the error is an [*stt.StreamError] with reason
// service-unavailable.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil && errors.Is(err, ErrAllFailed) {
		return nil, &stt.StreamError{Reason: stt.ReasonServiceUnavailable, Err: err}
	}
	return h, err
}

// Check fails when every backend's breaker is open. It is meant for readiness
// probes.
func (f *STTFallback) Check(context.Context) error {
	if f.group.Available() {
		return nil
	}
	names := make([]string, 0, len(f.group.entries))
	for _, s := range f.group.States() {
		names = append(names, s.Name)
	}
	return fmt.Errorf("resilience: no speech backend available (%s): %w", strings.Join(names, ", "), ErrCircuitOpen)
}

package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// Default restart parameters.
const (
	defaultBackoff     = 250 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	defaultMaxFailures = 5
)

// StreamOption configures a [StreamSource].
type StreamOption func(*StreamSource)

// WithStreamConfig sets the audio format and hints used for every stream.
func WithStreamConfig(cfg stt.StreamConfig) StreamOption {
	return func(s *StreamSource) {
		s.cfg = cfg
	}
}

// WithBackoff sets the delay before reopening a stream that produced no
// transcript. It doubles for each consecutive unproductive stream up to
// maxDelay. Defaults: 250ms and 5s.
func WithBackoff(initial, maxDelay time.Duration) StreamOption {
	return func(s *StreamSource) {
		if initial > 0 {
			s.backoff = initial
		}
		if maxDelay > 0 {
			s.maxBackoff = maxDelay
		}
	}
}

// WithMaxFailures sets how many consecutive failed attempts to open a stream
// are tolerated before the source gives up with
// stt.ReasonServiceUnavailable. Default: 5.
func WithMaxFailures(n int) StreamOption {
	return func(s *StreamSource) {
		if n > 0 {
			s.maxFailures = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) StreamOption {
	return func(s *StreamSource) {
		s.metrics = m
	}
}

// WithName labels the provider in logs and metrics. Default: "stt".
func WithName(name string) StreamOption {
	return func(s *StreamSource) {
		s.name = name
	}
}

// StreamSource is a [Source] backed by an stt.Provider. Audio is fed with
// [StreamSource.SendAudio].
//
// Recognition services end streams on their own. When that happens without a
// fatal reason, StreamSource opens a new stream and starts a new cumulative
// snapshot; consumers only see the interruption as a non-fatal [Event] when
// the service reported one. Opening streams is guarded by a circuit breaker:
// once it opens, the source ends with a fatal stt.ReasonServiceUnavailable
// event.
//
// All methods are safe for concurrent use.
type StreamSource struct {
	provider    stt.Provider
	cfg         stt.StreamConfig
	backoff     time.Duration
	maxBackoff  time.Duration
	maxFailures int
	metrics     *observe.Metrics
	name        string

	breaker *resilience.CircuitBreaker

	snapshots chan Snapshot
	events    chan Event

	mu      sync.Mutex
	handle  stt.SessionHandle
	started bool
	stopped bool
	cancel  context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time interface assertion.
var _ Source = (*StreamSource)(nil)

// NewStreamSource returns a StreamSource recognising audio with p. A nil p
// yields a source whose Start fails with stt.ErrUnsupported.
func NewStreamSource(p stt.Provider, opts ...StreamOption) *StreamSource {
	s := &StreamSource{
		provider:    p,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
		maxFailures: defaultMaxFailures,
		name:        "stt",
		snapshots:   make(chan Snapshot, 16),
		events:      make(chan Event, 4),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "stream:" + s.name,
		MaxFailures: s.maxFailures,
	})
	return s
}

// Start opens the first stream. Failing to open it is reported as the
// returned error rather than as an event.
func (s *StreamSource) Start(ctx context.Context) error {
	if s.provider == nil {
		return stt.ErrUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	h, err := s.open(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("transcript: start %s stream: %w", s.name, err)
	}
	s.handle = h
	s.started = true
	s.cancel = cancel

	go s.run(ctx, h)
	return nil
}

// SendAudio forwards a PCM chunk to the open stream. Chunks arriving while
// no stream is open, such as while one is being reopened, are dropped and
// counted.
func (s *StreamSource) SendAudio(chunk []byte) error {
	s.mu.Lock()
	h, stopped := s.handle, s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if h == nil {
		s.metrics.RecordAudioDropped(context.Background(), "no_stream")
		return nil
	}
	if err := h.SendAudio(chunk); err != nil {
		s.metrics.RecordAudioDropped(context.Background(), "send_failed")
		return err
	}
	return nil
}

// Stop closes the open stream and waits for the source to end.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.stopped = true
	started, cancel, h := s.started, s.cancel, s.handle
	s.mu.Unlock()

	if !started {
		s.finish()
		return nil
	}
	cancel()
	if h != nil {
		_ = h.Close()
	}
	<-s.done
	return nil
}

// Snapshots returns the snapshot stream.
func (s *StreamSource) Snapshots() <-chan Snapshot { return s.snapshots }

// Events returns the event stream.
func (s *StreamSource) Events() <-chan Event { return s.events }

func (s *StreamSource) finish() {
	s.closeOnce.Do(func() {
		close(s.snapshots)
		close(s.events)
		close(s.done)
	})
}

// open starts one stream through the circuit breaker.
func (s *StreamSource) open(ctx context.Context) (stt.SessionHandle, error) {
	var h stt.SessionHandle
	start := time.Now()
	err := s.breaker.Execute(func() error {
		var err error
		h, err = s.provider.StartStream(ctx, s.cfg)
		return err
	})
	s.metrics.STTConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			s.metrics.RecordProviderRequest(ctx, s.name, "stt", "error")
			s.metrics.RecordProviderError(ctx, s.name, "stt")
		}
		return nil, err
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "stt", "ok")
	s.metrics.ActiveStreams.Add(ctx, 1)
	return h, nil
}

func (s *StreamSource) run(ctx context.Context, h stt.SessionHandle) {
	defer s.finish()

	var acc Accumulator
	delay := time.Duration(0)

	for {
		productive := s.consume(ctx, h, &acc)
		endErr := h.Err()
		_ = h.Close()
		s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

		if ctx.Err() != nil || errors.Is(endErr, io.EOF) {
			return
		}
		if reason := stt.ReasonOf(endErr); reason != "" {
			if !s.emit(ctx, Event{Reason: reason, Err: endErr}) || reason.Fatal() {
				return
			}
		}

		acc.Reset()
		s.setHandle(nil)
		if productive {
			delay = 0
		} else {
			delay = s.nextDelay(delay)
		}

		var ok bool
		if h, ok = s.reopen(ctx, delay); !ok {
			return
		}
	}
}

// consume forwards transcripts from h until both of its channels close. It
// reports whether any text was recognised.
func (s *StreamSource) consume(ctx context.Context, h stt.SessionHandle, acc *Accumulator) bool {
	productive := false
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		var t stt.Transcript
		var ok bool
		select {
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		case <-ctx.Done():
			return productive
		}
		productive = true
		if !s.send(ctx, acc.Add(t)) {
			return productive
		}
	}
	return productive
}

// reopen opens a replacement stream after waiting delay, retrying failed
// attempts with backoff until the breaker opens or a fatal reason is seen.
func (s *StreamSource) reopen(ctx context.Context, delay time.Duration) (stt.SessionHandle, bool) {
	for attempt := 1; ; attempt++ {
		if !sleep(ctx, delay) {
			return nil, false
		}

		h, err := s.open(ctx)
		if err == nil {
			if !s.setHandle(h) {
				_ = h.Close()
				return nil, false
			}
			s.metrics.SourceRestarts.Add(ctx, 1)
			slog.Debug("recognition stream reopened", "provider", s.name, "attempt", attempt)
			return h, true
		}
		if ctx.Err() != nil {
			return nil, false
		}

		reason := stt.ReasonOf(err)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			reason = stt.ReasonServiceUnavailable
		}
		slog.Warn("failed to reopen recognition stream",
			"provider", s.name,
			"attempt", attempt,
			"reason", reason,
			"err", err,
		)
		if reason.Fatal() {
			s.emit(ctx, Event{Reason: reason, Err: err})
			return nil, false
		}
		delay = s.nextDelay(delay)
	}
}

// setHandle publishes h for SendAudio. It returns false if the source was
// stopped meanwhile.
func (s *StreamSource) setHandle(h stt.SessionHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.handle = h
	return true
}

func (s *StreamSource) nextDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return s.backoff
	}
	d *= 2
	if d > s.maxBackoff {
		d = s.maxBackoff
	}
	return d
}

func (s *StreamSource) send(ctx context.Context, snap Snapshot) bool {
	select {
	case s.snapshots <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *StreamSource) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

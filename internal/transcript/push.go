package transcript

import (
	"context"
	"sync"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// PushSource is a [Source] fed from outside, typically by a recogniser
// running in the reader's browser that reports over a websocket. Snapshots and
// events are relayed as pushed; the pusher is responsible for restarting its
// recogniser after benign interruptions.
//
// All methods are safe for concurrent use.
type PushSource struct {
	snapshots chan Snapshot
	events    chan Event

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	started bool
	closed  bool
}

// Compile-time interface assertion.
var _ Source = (*PushSource)(nil)

// NewPushSource returns an idle PushSource.
func NewPushSource() *PushSource {
	return &PushSource{
		snapshots: make(chan Snapshot, 16),
		events:    make(chan Event, 4),
		done:      make(chan struct{}),
	}
}

// Start marks the source as running. It is stopped automatically when ctx is
// cancelled.
func (p *PushSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

// Push relays a snapshot. It blocks while the consumer is behind and returns
// [ErrStopped] once the source has been stopped.
func (p *PushSource) Push(s Snapshot) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStopped
	}
	select {
	case p.snapshots <- s:
		return nil
	case <-p.done:
		return ErrStopped
	}
}

// Report relays a recognition error. A fatal reason stops the source after
// the event has been delivered.
func (p *PushSource) Report(reason stt.Reason, err error) error {
	if reason == "" {
		reason = stt.ReasonUnknown
	}
	if err == nil {
		err = &stt.StreamError{Reason: reason}
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrStopped
	}
	var sendErr error
	select {
	case p.events <- Event{Reason: reason, Err: err}:
	case <-p.done:
		sendErr = ErrStopped
	}
	p.mu.RUnlock()

	if sendErr == nil && reason.Fatal() {
		_ = p.Stop()
	}
	return sendErr
}

// Stop ends the source and closes its channels. Events already buffered
// remain readable.
func (p *PushSource) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.snapshots)
		close(p.events)
		p.mu.Unlock()
	})
	return nil
}

// Snapshots returns the snapshot stream.
func (p *PushSource) Snapshots() <-chan Snapshot { return p.snapshots }

// Events returns the event stream.
func (p *PushSource) Events() <-chan Event { return p.events }

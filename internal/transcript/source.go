// Package transcript turns speech recognition into the cumulative transcript
// snapshots that drive a reading session.
//
// A [Source] produces two streams: [Snapshot] values carrying the full text
// recognised since listening began, and [Event] values reporting why
// recognition was interrupted. Recognition runs in one of two places:
//
//   - [StreamSource] recognises audio on the server through an stt.Provider
//     and reopens the stream whenever the service ends it, most commonly after
//     a stretch of silence.
//   - [PushSource] relays snapshots and errors produced by a recogniser in the
//     reader's browser.
//
// Either way the consumer sees the same contract, so the alignment code does
// not care where recognition happens.
package transcript

import (
	"context"
	"errors"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

var (
	// ErrAlreadyStarted is returned by Start on a source that is running.
	ErrAlreadyStarted = errors.New("transcript: source already started")

	// ErrStopped is returned when using a source after Stop.
	ErrStopped = errors.New("transcript: source stopped")
)

// Snapshot is the cumulative transcript of everything recognised since the
// source (re)started.
type Snapshot struct {
	// Text is the recognised text, committed segments first, followed by the
	// current interim segment.
	Text string `json:"text"`

	// IsFinal is true when Text contains no interim segment.
	IsFinal bool `json:"is_final"`

	// Confidence holds one score per segment in Text, in order. Sources that
	// do not report confidence leave it empty.
	Confidence []float64 `json:"confidence,omitempty"`
}

// Event reports an interruption of recognition.
type Event struct {
	// Reason classifies the interruption. Non-fatal reasons are informational:
	// the source keeps running.
	Reason stt.Reason

	// Err is the underlying error, if any.
	Err error
}

// Fatal reports whether the event ended recognition for good.
func (e Event) Fatal() bool { return e.Reason.Fatal() }

// Source delivers transcript snapshots and recognition events.
//
// Both channels are closed once the source has ended, either because Stop was
// called, the context passed to Start was cancelled, a fatal event was
// emitted, or the input is exhausted.
type Source interface {
	// Start begins recognition. It returns an error, classified with
	// stt.ReasonOf, if recognition cannot begin at all.
	Start(ctx context.Context) error

	// Stop ends recognition. After Stop returns no further snapshots are
	// delivered. Stop is idempotent.
	Stop() error

	// Snapshots returns the snapshot stream.
	Snapshots() <-chan Snapshot

	// Events returns the event stream.
	Events() <-chan Event
}

// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) or an
// offline replay and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits two streams of Transcript segments: low-latency partials
// and committed finals. Turning segments into the cumulative text a reader has
// spoken is the caller's job.
//
// Recognition services end streams on their own, most commonly after a stretch
// of silence. When both transcript channels are closed, Err reports why the
// stream ended so that callers can decide whether to reopen it.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browsers capture at 48000;
	// 16000 is enough for recognition.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider use its default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words of the script being read, such as names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio to the
	// provider. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim segments. The channel is
	// closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of committed segments. The channel is
	// closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the stream ended. It returns nil while the stream is
	// running, after Close, and when the service ended the stream without a
	// fault (e.g., a silence timeout). A *StreamError carries the [Reason];
	// io.EOF means the input is exhausted and the stream must not be reopened.
	Err() error

	// Close terminates the session and releases its resources. After Close
	// returns, the Partials and Finals channels are closed. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. Failures to
	// establish the session are returned as *StreamError when the cause is
	// known (e.g., [ReasonPermissionDenied] for rejected credentials).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

package stt

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why recognition stopped or failed. The string values are
// the wire codes exchanged with clients.
type Reason string

const (
	// ReasonNoSpeech means the recogniser heard nothing for a while.
	ReasonNoSpeech Reason = "no-speech"

	// ReasonAborted means recognition was cancelled locally.
	ReasonAborted Reason = "aborted"

	// ReasonNetwork means the connection to the recognition service dropped.
	ReasonNetwork Reason = "network"

	// ReasonPermissionDenied means microphone access or the service
	// credentials were refused.
	ReasonPermissionDenied Reason = "permission-denied"

	// ReasonServiceUnavailable means the recognition service cannot be used.
	ReasonServiceUnavailable Reason = "service-unavailable"

	// ReasonUnsupported means recognition is not available at all.
	ReasonUnsupported Reason = "unsupported"

	// ReasonUnknown covers every other failure.
	ReasonUnknown Reason = "unknown"
)

// ErrUnsupported is returned when no recogniser is available.
var ErrUnsupported = errors.New("stt: speech recognition is not supported")

// Fatal reports whether a reading session must stop because of r. No-speech,
// aborted and network interruptions are recovered by restarting the stream.
func (r Reason) Fatal() bool {
	switch r {
	case ReasonNoSpeech, ReasonAborted, ReasonNetwork:
		return false
	}
	return true
}

// ParseReason maps a client-reported error code to a [Reason]. It accepts the
// codes defined here as well as the Web Speech API error names.
func ParseReason(code string) Reason {
	switch code {
	case string(ReasonNoSpeech), string(ReasonAborted), string(ReasonNetwork),
		string(ReasonPermissionDenied), string(ReasonServiceUnavailable),
		string(ReasonUnsupported):
		return Reason(code)
	case "not-allowed":
		return ReasonPermissionDenied
	case "service-not-allowed":
		return ReasonServiceUnavailable
	case "audio-capture", "language-not-supported":
		return ReasonUnsupported
	}
	return ReasonUnknown
}

// StreamError is a recognition failure with a known [Reason].
type StreamError struct {
	Reason Reason
	Err    error
}

// Error implements error.
func (e *StreamError) Error() string {
	if e.Err == nil {
		return "stt: " + string(e.Reason)
	}
	return fmt.Sprintf("stt: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error { return e.Err }

// ReasonOf classifies err. It returns "" for nil.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var se *StreamError
	switch {
	case errors.As(err, &se):
		return se.Reason
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, context.Canceled):
		return ReasonAborted
	}
	return ReasonUnknown
}

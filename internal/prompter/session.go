// Package prompter applies alignment results to a reading session.
//
// A [Session] owns the reference script and the progress pointer of one
// reader. It moves through three states:
//
//	Idle ──Start──▶ Listening ──Stop/Fail──▶ Stopped
//	  ▲                 ▲                      │
//	  └─────Reset───────┴───────Start──────────┘
//
// While Listening every transcript snapshot is handed to the configured
// [align.Matcher] and the pointer only ever moves forward. The script can only
// be replaced while Idle. Stopped keeps the last pointer so the reader still
// sees how far they got; Reset clears it.
//
// A [Runner] feeds a [transcript.Source] into a Session.
package prompter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cuecard/internal/align"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/script"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

var (
	// ErrScriptLocked is returned by SetScript outside the Idle state.
	ErrScriptLocked = errors.New("prompter: script can only be changed while idle")

	// ErrEmptyScript is returned by Start when there is nothing to read.
	ErrEmptyScript = errors.New("prompter: script is empty")

	// ErrAlreadyListening is returned by Start while listening.
	ErrAlreadyListening = errors.New("prompter: already listening")
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle means no reading is in progress and the script is editable.
	StateIdle State = iota

	// StateListening means snapshots advance the pointer.
	StateListening

	// StateStopped means reading ended; the pointer is kept until Reset or
	// the next Start.
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Progress is a point-in-time view of a session.
type Progress struct {
	// SessionID identifies the current reading. It changes on every Start.
	SessionID string `json:"session_id"`

	State State       `json:"state"`
	Unit  script.Unit `json:"unit"`

	// Index is the last unit read, or -1.
	Index int `json:"index"`
	Total int `json:"total"`

	// Fraction is (Index+1)/Total, 0 for an empty script.
	Fraction float64 `json:"fraction"`

	// Done is true once the last unit has been read.
	Done bool `json:"done"`

	// Reason and Error describe the failure that stopped the session, if any.
	Reason stt.Reason `json:"reason,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is the reading state of one reader. All methods are safe for
// concurrent use; the matcher runs under the session lock, so snapshots are
// applied one at a time.
type Session struct {
	matcher  align.Matcher
	strategy string
	metrics  *observe.Metrics

	mu      sync.Mutex
	id      string
	state   State
	script  *script.Script
	units   []string
	pointer int
	reason  stt.Reason
	lastErr error

	subs    map[int]chan Progress
	nextSub int
}

// New returns an idle Session without a script.
func New(m align.Matcher, opts ...Option) *Session {
	s := &Session{
		matcher:  m,
		strategy: string(align.StrategyToken),
		id:       uuid.NewString(),
		pointer:  -1,
		subs:     make(map[int]chan Progress),
	}
	if m.Unit() == script.UnitSentence {
		s.strategy = string(align.StrategySentence)
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetScript replaces the script. It fails with [ErrScriptLocked] unless the
// session is idle.
func (s *Session) SetScript(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrScriptLocked
	}
	s.script = script.Parse(raw)
	s.units = s.script.Units(s.matcher.Unit())
	s.pointer = -1
	s.notify()
	return nil
}

// Script returns the current script, which may be nil.
func (s *Session) Script() *script.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script
}

// Start begins a new reading from the top of the script.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateListening {
		return ErrAlreadyListening
	}
	if len(s.units) == 0 {
		return ErrEmptyScript
	}
	s.id = uuid.NewString()
	s.state = StateListening
	s.pointer = -1
	s.reason, s.lastErr = "", nil
	s.notify()
	return nil
}

// Stop ends listening and keeps the pointer. Once Stop returns, no snapshot
// can move the pointer. Stopping a session that is not listening does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return
	}
	s.state = StateStopped
	s.notify()
}

// Fail stops the session because recognition failed for good. The reason is
// reported in [Progress] until the next Start or Reset.
func (s *Session) Fail(reason stt.Reason, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return
	}
	s.state = StateStopped
	s.reason, s.lastErr = reason, err
	s.notify()
}

// Reset stops listening, clears the pointer and makes the script editable.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.pointer = -1
	s.reason, s.lastErr = "", nil
	s.notify()
}

// Apply aligns snapshot against the script. It reports whether the pointer
// moved. Snapshots are ignored unless the session is listening, and blank
// snapshots never reach the matcher.
func (s *Session) Apply(ctx context.Context, snapshot string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening || strings.TrimSpace(snapshot) == "" {
		return s.progress(), false
	}

	start := time.Now()
	next := s.matcher.Match(s.units, snapshot, s.pointer)
	advanced := next > s.pointer
	s.metrics.RecordAlignment(ctx, s.strategy, time.Since(start), advanced)
	if !advanced {
		return s.progress(), false
	}
	s.pointer = next
	s.notify()
	return s.progress(), true
}

// Progress returns the current progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

// Subscribe returns a channel that receives the progress after every change.
// A slow subscriber only sees the latest progress; updates in between are
// dropped. Call cancel to unsubscribe; it closes the channel.
func (s *Session) Subscribe() (<-chan Progress, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Progress, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// progress builds the current Progress. Must be called with s.mu held.
func (s *Session) progress() Progress {
	total := len(s.units)
	p := Progress{
		SessionID: s.id,
		State:     s.state,
		Unit:      s.matcher.Unit(),
		Index:     s.pointer,
		Total:     total,
		Done:      total > 0 && s.pointer == total-1,
		Reason:    s.reason,
	}
	if total > 0 {
		p.Fraction = float64(s.pointer+1) / float64(total)
	}
	if s.lastErr != nil {
		p.Error = s.lastErr.Error()
	}
	return p
}

// notify publishes the current progress to every subscriber, replacing any
// update they have not read yet. Must be called with s.mu held.
func (s *Session) notify() {
	p := s.progress()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

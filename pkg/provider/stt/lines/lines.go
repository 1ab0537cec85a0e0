// Package lines provides an offline STT provider that replays a spoken
// transcript from text instead of recognising audio.
//
// Every non-blank input line is one utterance: the session emits a partial
// segment for each growing word prefix of the line and then the whole line as
// a final segment. A blank line ends the current stream without an error, the
// way a recognition service times out after silence; the next StartStream
// continues with the following line. Once the input is exhausted, the stream
// ends with Err() == io.EOF.
//
// The provider is used for rehearsals from the command line and in tests.
package lines

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// Option configures a Provider.
type Option func(*Provider)

// WithWordDelay waits d before each emitted segment, so that a replay takes
// roughly as long as reading it aloud would.
func WithWordDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.wordDelay = d
	}
}

// WithoutPartials emits only one final segment per line.
func WithoutPartials() Option {
	return func(p *Provider) {
		p.partials = false
	}
}

// Provider replays lines read from an io.Reader. Successive streams share the
// reader position.
type Provider struct {
	wordDelay time.Duration
	partials  bool

	mu      sync.Mutex
	scanner *bufio.Scanner
	eof     bool
}

// New returns a Provider reading utterances from r.
func New(r io.Reader, opts ...Option) *Provider {
	p := &Provider{
		partials: true,
		scanner:  bufio.NewScanner(r),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartStream starts replaying the next block of lines. The audio format in
// cfg is ignored.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &stt.StreamError{Reason: stt.ReasonAborted, Err: err}
	}
	s := &session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ctx, p)
	return s, nil
}

// next returns the next line. ok is false at a blank line or at the end of
// input; err is io.EOF or the reader's error in the latter case.
func (p *Provider) next() (line string, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eof {
		return "", false, io.EOF
	}
	if !p.scanner.Scan() {
		p.eof = true
		if err := p.scanner.Err(); err != nil {
			return "", false, err
		}
		return "", false, io.EOF
	}
	line = strings.TrimSpace(p.scanner.Text())
	return line, line != "", nil
}

type session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) run(ctx context.Context, p *Provider) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		line, ok, err := p.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				err = &stt.StreamError{Reason: stt.ReasonNetwork, Err: err}
			}
			s.setErr(err)
			return
		}
		if !ok {
			return
		}
		if !s.replay(ctx, p, line) {
			return
		}
	}
}

// replay emits the segments of one line. It returns false when the session
// was closed or the context cancelled.
func (s *session) replay(ctx context.Context, p *Provider, line string) bool {
	words := strings.Fields(line)
	if p.partials {
		for i := 1; i < len(words); i++ {
			t := stt.Transcript{Text: strings.Join(words[:i], " ")}
			if !s.emit(ctx, p.wordDelay, s.partials, t) {
				return false
			}
		}
	}
	t := stt.Transcript{Text: strings.Join(words, " "), IsFinal: true, Confidence: 1}
	return s.emit(ctx, p.wordDelay, s.finals, t)
}

func (s *session) emit(ctx context.Context, delay time.Duration, out chan<- stt.Transcript, t stt.Transcript) bool {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
	select {
	case out <- t:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SendAudio discards chunk.
func (s *session) SendAudio([]byte) error {
	select {
	case <-s.done:
		return errors.New("lines: session is closed")
	default:
		return nil
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Err returns io.EOF once the input is exhausted.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

var _ stt.Provider = (*Provider)(nil)

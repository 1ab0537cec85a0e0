package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/prompter"
	"github.com/MrWong99/cuecard/internal/transcript"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

const (
	readLimit    = 4 << 20
	writeTimeout = 5 * time.Second
	keywordBoost = 2

	sourceClient = "client"
	sourceServer = "server"
)

// clientMessage is any text frame a client sends. Type selects which fields
// are read.
type clientMessage struct {
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	Source     string    `json:"source,omitempty"`
	IsFinal    bool      `json:"is_final,omitempty"`
	Confidence []float64 `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
}

type progressMessage struct {
	Type string `json:"type"`
	prompter.Progress
}

type errorMessage struct {
	Type    string     `json:"type"`
	Reason  stt.Reason `json:"reason,omitempty"`
	Message string     `json:"message"`
}

// reading is the transcript source feeding a listening session.
type reading struct {
	source transcript.Source
	push   *transcript.PushSource
	stream *transcript.StreamSource
	cancel context.CancelFunc
	done   chan struct{}
}

// conn is one websocket client and its reading session. Only the read loop
// touches cur.
type conn struct {
	srv      *Server
	ws       *websocket.Conn
	settings Settings
	session  *prompter.Session
	log      *slog.Logger

	cur *reading
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, span := observe.StartSpan(r.Context(), "reading.session")
	defer span.End()

	settings := s.current()
	matcher, err := settings.Alignment.Matcher()
	if err != nil {
		observe.Logger(ctx).Error("build matcher", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "alignment is misconfigured")
		return
	}
	session := prompter.New(matcher, prompter.WithMetrics(s.metrics))
	// The first session id names the connection; each start mints a new one.
	ctx = observe.WithSession(ctx, session.Progress().SessionID)
	c := &conn{
		srv:      s,
		ws:       ws,
		settings: settings,
		session:  session,
		log:      observe.Logger(ctx).With("strategy", settings.Alignment.Strategy),
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	c.log.Info("reader connected")
	err = c.serve(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("reader connection failed", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "")
		return
	}
	c.log.Info("reader disconnected")
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// serve runs until the client goes away or ctx is cancelled.
func (c *conn) serve(ctx context.Context) error {
	updates, unsubscribe := c.session.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx, updates) })
	g.Go(func() error { return c.readLoop(gctx) })
	err := g.Wait()

	c.session.Stop()
	c.stopReading()
	return err
}

// writeLoop sends the progress after every change. A session that stopped
// because recognition failed is also reported as an error message.
func (c *conn) writeLoop(ctx context.Context, updates <-chan prompter.Progress) error {
	if err := c.send(ctx, progressMessage{Type: "progress", Progress: c.session.Progress()}); err != nil {
		return err
	}
	var lastFailure string
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			if err := c.send(ctx, progressMessage{Type: "progress", Progress: p}); err != nil {
				return err
			}
			if p.State != prompter.StateStopped || p.Reason == "" {
				continue
			}
			if key := p.SessionID + "/" + string(p.Reason); key != lastFailure {
				lastFailure = key
				if err := c.send(ctx, errorMessage{Type: "error", Reason: p.Reason, Message: p.Error}); err != nil {
					return err
				}
			}
		}
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			c.audio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := c.sendError(ctx, "", "malformed message: "+err.Error()); err != nil {
				return err
			}
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle applies one client message. It only returns an error when the
// connection is broken; problems with the message are reported to the client.
func (c *conn) handle(ctx context.Context, msg clientMessage) error {
	switch msg.Type {
	case "script":
		if err := c.session.SetScript(msg.Text); err != nil {
			return c.sendError(ctx, "", err.Error())
		}
		c.log.Debug("script set", "units", c.session.Progress().Total)

	case "start":
		return c.start(ctx, msg.Source)

	case "stop":
		c.session.Stop()
		c.stopReading()

	case "reset":
		c.session.Reset()
		c.stopReading()

	case "snapshot":
		if c.cur == nil || c.cur.push == nil {
			return c.sendError(ctx, "", `snapshots need a reading started with source "client"`)
		}
		err := c.cur.push.Push(transcript.Snapshot{Text: msg.Text, IsFinal: msg.IsFinal, Confidence: msg.Confidence})
		if err != nil {
			c.log.Debug("snapshot dropped", "err", err)
		}

	case "error":
		if c.cur == nil || c.cur.push == nil {
			c.log.Debug("recognition error without client reading", "reason", msg.Reason)
			return nil
		}
		reason := stt.ParseReason(msg.Reason)
		cause := &stt.StreamError{Reason: reason}
		if msg.Message != "" {
			cause.Err = errors.New(msg.Message)
		}
		if err := c.cur.push.Report(reason, cause); err != nil {
			c.log.Debug("recognition error dropped", "reason", reason, "err", err)
		}

	default:
		return c.sendError(ctx, "", fmt.Sprintf("unknown message type %q", msg.Type))
	}
	return nil
}

// start begins a reading fed by the requested source. A reading that is
// still listening must be stopped first.
func (c *conn) start(ctx context.Context, source string) error {
	if c.session.Progress().State == prompter.StateListening {
		return c.sendError(ctx, "", prompter.ErrAlreadyListening.Error())
	}
	if source == "" {
		source = sourceClient
	}

	rd := &reading{done: make(chan struct{})}
	switch source {
	case sourceClient:
		rd.push = transcript.NewPushSource()
		rd.source = rd.push
	case sourceServer:
		if c.srv.stt == nil {
			return c.sendError(ctx, stt.ReasonUnsupported, "server-side recognition is not configured")
		}
		rd.stream = transcript.NewStreamSource(c.srv.stt, c.streamOptions()...)
		rd.source = rd.stream
	default:
		return c.sendError(ctx, "", fmt.Sprintf("unknown source %q", source))
	}

	c.stopReading()
	if err := c.session.Start(); err != nil {
		return c.sendError(ctx, "", err.Error())
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := rd.source.Start(runCtx); err != nil {
		cancel()
		_ = rd.source.Stop()
		c.log.Warn("recognition did not start", "source", source, "err", err)
		c.session.Fail(stt.ReasonOf(err), err)
		return nil
	}
	rd.cancel = cancel

	runner := prompter.NewRunner(c.session, rd.source,
		prompter.WithSourceName(source),
		prompter.WithRunnerMetrics(c.srv.metrics),
	)
	go func() {
		defer close(rd.done)
		if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("reading ended", "err", err)
		}
	}()
	c.cur = rd
	c.log.Info("reading started", "source", source, "reading_id", c.session.Progress().SessionID)
	return nil
}

// stopReading tears down the current source and waits for its runner.
func (c *conn) stopReading() {
	rd := c.cur
	if rd == nil {
		return
	}
	c.cur = nil
	rd.cancel()
	_ = rd.source.Stop()
	<-rd.done
}

func (c *conn) streamOptions() []transcript.StreamOption {
	set := c.settings.Session
	cfg := stt.StreamConfig{
		SampleRate: set.SampleRate,
		Channels:   1,
		Language:   set.Language,
	}
	if set.KeywordLimit > 0 {
		for _, kw := range c.session.Script().Keywords(set.KeywordLimit) {
			cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: kw, Boost: keywordBoost})
		}
	}
	return []transcript.StreamOption{
		transcript.WithStreamConfig(cfg),
		transcript.WithBackoff(set.RestartBackoff, set.MaxRestartBackoff),
		transcript.WithMaxFailures(set.MaxRestartFailures),
		transcript.WithMetrics(c.srv.metrics),
		transcript.WithName(sourceServer),
	}
}

// audio forwards a binary frame to a server-side stream.
func (c *conn) audio(chunk []byte) {
	if c.cur == nil || c.cur.stream == nil {
		return
	}
	if err := c.cur.stream.SendAudio(chunk); err != nil {
		c.log.Debug("audio dropped", "err", err)
	}
}

func (c *conn) sendError(ctx context.Context, reason stt.Reason, message string) error {
	return c.send(ctx, errorMessage{Type: "error", Reason: reason, Message: message})
}

func (c *conn) send(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

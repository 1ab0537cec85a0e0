package transcript_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/transcript"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
	"github.com/MrWong99/cuecard/pkg/provider/stt/mock"
)

const waitTimeout = 5 * time.Second

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func nextSnapshot(t *testing.T, src transcript.Source) transcript.Snapshot {
	t.Helper()
	select {
	case s, ok := <-src.Snapshots():
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
	}
	return transcript.Snapshot{}
}

func nextEvent(t *testing.T, src transcript.Source) transcript.Event {
	t.Helper()
	select {
	case ev, ok := <-src.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
	return transcript.Event{}
}

// waitEnded drains both channels until they are closed and returns the events
// seen on the way.
func waitEnded(t *testing.T, src transcript.Source) []transcript.Event {
	t.Helper()
	var events []transcript.Event
	snaps, evs := src.Snapshots(), src.Events()
	deadline := time.After(waitTimeout)
	for snaps != nil || evs != nil {
		select {
		case _, ok := <-snaps:
			if !ok {
				snaps = nil
			}
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for source to end")
		}
	}
	return events
}

func networkErr() error {
	return &stt.StreamError{Reason: stt.ReasonNetwork, Err: errors.New("connection reset")}
}

func TestStreamSource_AccumulatesAndRestarts(t *testing.T) {
	t.Parallel()

	met, reader := newMetrics(t)
	s1, s2 := mock.NewSession(), mock.NewSession()
	p := &mock.Provider{Sessions: []stt.SessionHandle{s1, s2}}
	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}

	src := transcript.NewStreamSource(p,
		transcript.WithStreamConfig(cfg),
		transcript.WithBackoff(time.Millisecond, 5*time.Millisecond),
		transcript.WithMetrics(met),
	)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s1.PartialsCh <- stt.Transcript{Text: "the"}
	if got := nextSnapshot(t, src); got.Text != "the" || got.IsFinal {
		t.Errorf("snapshot 1 = %+v", got)
	}
	s1.FinalsCh <- stt.Transcript{Text: "the sky", IsFinal: true}
	if got := nextSnapshot(t, src); got.Text != "the sky" || !got.IsFinal {
		t.Errorf("snapshot 2 = %+v", got)
	}

	// Silent end: the stream is reopened and the snapshot starts over.
	s1.End(nil)
	s2.PartialsCh <- stt.Transcript{Text: "above"}
	if got := nextSnapshot(t, src); got.Text != "above" {
		t.Errorf("snapshot after restart = %q, want %q", got.Text, "above")
	}

	if err := src.SendAudio([]byte{1, 2}); err != nil {
		t.Errorf("SendAudio: %v", err)
	}
	if s2.SendAudioCallCount() != 1 || s1.SendAudioCallCount() != 0 {
		t.Errorf("audio went to the wrong stream: s1=%d s2=%d", s1.SendAudioCallCount(), s2.SendAudioCallCount())
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if events := waitEnded(t, src); len(events) != 0 {
		t.Errorf("unexpected events: %+v", events)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := src.SendAudio([]byte{1}); !errors.Is(err, transcript.ErrStopped) {
		t.Errorf("SendAudio after Stop = %v, want ErrStopped", err)
	}

	if n := p.StartStreamCallCount(); n != 2 {
		t.Errorf("StartStream calls = %d, want 2", n)
	}
	if got := p.StartStreamCalls[0].Cfg; got.SampleRate != 16000 || got.Language != "en-US" {
		t.Errorf("stream config = %+v, want %+v", got, cfg)
	}
	if s2.CloseCount() == 0 {
		t.Error("Stop did not close the open stream")
	}
	if got := counterValue(t, reader, "cuecard.source.restarts"); got != 1 {
		t.Errorf("source restarts = %d, want 1", got)
	}
}

func TestStreamSource_EndReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		endErr      error
		wantReason  stt.Reason
		wantRestart bool
	}{
		{"no speech", &stt.StreamError{Reason: stt.ReasonNoSpeech}, stt.ReasonNoSpeech, true},
		{"network", networkErr(), stt.ReasonNetwork, true},
		{"permission denied", &stt.StreamError{Reason: stt.ReasonPermissionDenied}, stt.ReasonPermissionDenied, false},
		{"unclassified", errors.New("boom"), stt.ReasonUnknown, false},
		{"input exhausted", io.EOF, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			met, _ := newMetrics(t)
			s1, s2 := mock.NewSession(), mock.NewSession()
			p := &mock.Provider{Sessions: []stt.SessionHandle{s1, s2}}
			src := transcript.NewStreamSource(p, transcript.WithMetrics(met),
				transcript.WithBackoff(time.Millisecond, time.Millisecond))
			if err := src.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			t.Cleanup(func() { _ = src.Stop() })

			s1.End(tc.endErr)

			if tc.wantRestart {
				ev := nextEvent(t, src)
				if ev.Reason != tc.wantReason || ev.Fatal() {
					t.Errorf("event = %+v, want non-fatal %q", ev, tc.wantReason)
				}
				s2.FinalsCh <- stt.Transcript{Text: "still here", IsFinal: true}
				if got := nextSnapshot(t, src); got.Text != "still here" {
					t.Errorf("snapshot after restart = %q", got.Text)
				}
				return
			}

			events := waitEnded(t, src)
			switch {
			case tc.wantReason == "" && len(events) != 0:
				t.Errorf("events = %+v, want none", events)
			case tc.wantReason != "" && (len(events) != 1 || events[0].Reason != tc.wantReason || !events[0].Fatal()):
				t.Errorf("events = %+v, want one fatal %q", events, tc.wantReason)
			}
			if n := p.StartStreamCallCount(); n != 1 {
				t.Errorf("StartStream calls = %d, want 1 (no restart)", n)
			}
		})
	}
}

func TestStreamSource_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	met, _ := newMetrics(t)
	s1 := mock.NewSession()
	p := &mock.Provider{Session: s1}
	src := transcript.NewStreamSource(p,
		transcript.WithMetrics(met),
		transcript.WithBackoff(time.Millisecond, 2*time.Millisecond),
		transcript.WithMaxFailures(3),
	)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Every reopen attempt fails from now on.
	p.StartStreamErr = networkErr()
	s1.End(nil)

	events := waitEnded(t, src)
	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly one", events)
	}
	if events[0].Reason != stt.ReasonServiceUnavailable || !events[0].Fatal() {
		t.Errorf("event = %+v, want fatal service-unavailable", events[0])
	}
	// One successful start, three failures that open the breaker, and no
	// further provider calls once it is open.
	if n := p.StartStreamCallCount(); n != 4 {
		t.Errorf("StartStream calls = %d, want 4", n)
	}
}

func TestStreamSource_CountsDroppedAudio(t *testing.T) {
	t.Parallel()

	met, reader := newMetrics(t)
	sess := mock.NewSession()
	sess.SendAudioErr = io.ErrClosedPipe
	src := transcript.NewStreamSource(&mock.Provider{Session: sess}, transcript.WithMetrics(met))

	// No stream is open yet: the chunk is discarded without an error.
	if err := src.SendAudio([]byte{1}); err != nil {
		t.Errorf("SendAudio before Start = %v, want nil", err)
	}
	if got := counterValue(t, reader, "cuecard.audio.dropped"); got != 1 {
		t.Errorf("dropped after idle send = %d, want 1", got)
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()
	if err := src.SendAudio([]byte{2}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("SendAudio = %v, want io.ErrClosedPipe", err)
	}
	if got := counterValue(t, reader, "cuecard.audio.dropped"); got != 2 {
		t.Errorf("dropped after failed send = %d, want 2", got)
	}
}

func TestStreamSource_Start(t *testing.T) {
	t.Parallel()

	met, _ := newMetrics(t)

	t.Run("no provider", func(t *testing.T) {
		src := transcript.NewStreamSource(nil, transcript.WithMetrics(met))
		if err := src.Start(context.Background()); !errors.Is(err, stt.ErrUnsupported) {
			t.Errorf("Start = %v, want ErrUnsupported", err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		p := &mock.Provider{StartStreamErr: &stt.StreamError{Reason: stt.ReasonPermissionDenied}}
		src := transcript.NewStreamSource(p, transcript.WithMetrics(met))
		err := src.Start(context.Background())
		if got := stt.ReasonOf(err); got != stt.ReasonPermissionDenied {
			t.Errorf("Start reason = %q, want %q (err=%v)", got, stt.ReasonPermissionDenied, err)
		}
	})

	t.Run("twice", func(t *testing.T) {
		src := transcript.NewStreamSource(&mock.Provider{}, transcript.WithMetrics(met))
		if err := src.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := src.Start(context.Background()); !errors.Is(err, transcript.ErrAlreadyStarted) {
			t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
		}
		_ = src.Stop()
		if err := src.Start(context.Background()); !errors.Is(err, transcript.ErrStopped) {
			t.Errorf("Start after Stop = %v, want ErrStopped", err)
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		src := transcript.NewStreamSource(&mock.Provider{}, transcript.WithMetrics(met))
		if err := src.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		waitEnded(t, src)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		src := transcript.NewStreamSource(&mock.Provider{}, transcript.WithMetrics(met))
		if err := src.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		cancel()
		waitEnded(t, src)
	})
}

package prompter

import (
	"context"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/transcript"
)

// Runner drives a [Session] from a [transcript.Source].
type Runner struct {
	session *Session
	source  transcript.Source
	name    string
	metrics *observe.Metrics
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithSourceName labels the source in logs and metrics, e.g. "client" or
// "server". Default: "server".
func WithSourceName(name string) RunnerOption {
	return func(r *Runner) {
		r.name = name
	}
}

// WithRunnerMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner returns a Runner applying snapshots from src to s. The source must
// be started by the caller.
func NewRunner(s *Session, src transcript.Source, opts ...RunnerOption) *Runner {
	r := &Runner{session: s, source: src, name: "server"}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run applies snapshots until the source ends or ctx is cancelled. Benign
// recognition events are logged; a fatal one stops the session via
// [Session.Fail] once every snapshot delivered before it has been applied.
// Run returns ctx.Err() on cancellation and nil otherwise.
func (r *Runner) Run(ctx context.Context) error {
	log := observe.Logger(ctx).With("source", r.name)
	snapshots, events := r.source.Snapshots(), r.source.Events()

	apply := func(snap transcript.Snapshot) {
		r.metrics.RecordSnapshot(ctx, r.name, snap.IsFinal)
		if p, advanced := r.session.Apply(ctx, snap.Text); advanced {
			log.Debug("reading advanced",
				"session_id", p.SessionID,
				"index", p.Index,
				"total", p.Total,
			)
		}
	}

	for snapshots != nil || events != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			apply(snap)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			fatal := ev.Fatal()
			r.metrics.RecordRecognitionError(ctx, string(ev.Reason), fatal)
			if !fatal {
				log.Debug("recognition interrupted", "reason", ev.Reason, "err", ev.Err)
				continue
			}
			// select picks among ready channels at random, so snapshots
			// queued ahead of the event may still be waiting.
			snapshots = drain(snapshots, apply)
			log.Warn("recognition failed", "reason", ev.Reason, "err", ev.Err)
			r.session.Fail(ev.Reason, ev.Err)
		}
	}
	return nil
}

// drain passes every snapshot already queued on ch to fn without blocking. It
// returns nil when ch turns out to be closed.
func drain(ch <-chan transcript.Snapshot, fn func(transcript.Snapshot)) <-chan transcript.Snapshot {
	for ch != nil {
		select {
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			fn(snap)
		default:
			return ch
		}
	}
	return nil
}

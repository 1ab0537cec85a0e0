package transcript

import (
	"strings"

	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// Accumulator folds a stream of partial and final segments into cumulative
// snapshots. The zero value is ready to use. It is not safe for concurrent use.
type Accumulator struct {
	finals     []string
	confidence []float64

	partial     string
	partialConf float64
}

// Add incorporates t and returns the resulting snapshot. A final segment
// replaces the pending interim segment; blank segments are ignored.
func (a *Accumulator) Add(t stt.Transcript) Snapshot {
	text := strings.TrimSpace(t.Text)
	switch {
	case t.IsFinal:
		a.partial, a.partialConf = "", 0
		if text != "" {
			a.finals = append(a.finals, text)
			a.confidence = append(a.confidence, t.Confidence)
		}
	default:
		a.partial, a.partialConf = text, t.Confidence
	}
	return a.Snapshot()
}

// Snapshot returns the current cumulative snapshot.
func (a *Accumulator) Snapshot() Snapshot {
	parts := a.finals
	conf := a.confidence
	if a.partial != "" {
		parts = append(parts[:len(parts):len(parts)], a.partial)
		conf = append(conf[:len(conf):len(conf)], a.partialConf)
	}
	return Snapshot{
		Text:       strings.Join(parts, " "),
		IsFinal:    a.partial == "",
		Confidence: append([]float64(nil), conf...),
	}
}

// Reset forgets everything recognised so far.
func (a *Accumulator) Reset() {
	a.finals = nil
	a.confidence = nil
	a.partial, a.partialConf = "", 0
}

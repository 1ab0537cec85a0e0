package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrWong99/cuecard/internal/config"
	"github.com/MrWong99/cuecard/internal/prompter"
	"github.com/MrWong99/cuecard/internal/transcript"
	"github.com/MrWong99/cuecard/pkg/provider/stt/lines"
)

// errIncomplete is returned by rehearse when recognition failed before the
// end of the transcript.
var errIncomplete = errors.New("rehearsal stopped early")

// rehearse replays the transcript at transcriptPath against the script at
// scriptPath through the same source, runner and session a live reading
// uses, and writes every advance to w.
func rehearse(ctx context.Context, cfg *config.Config, scriptPath, transcriptPath string, pace time.Duration, w io.Writer) error {
	if scriptPath == "" || transcriptPath == "" {
		return errors.New("rehearse needs a script and a transcript")
	}
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	spoken, err := os.Open(transcriptPath)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer spoken.Close()

	matcher, err := cfg.Alignment.Matcher()
	if err != nil {
		return err
	}
	session := prompter.New(matcher)
	if err := session.SetScript(string(raw)); err != nil {
		return err
	}
	units := session.Script().Units(matcher.Unit())

	src := transcript.NewStreamSource(lines.New(spoken, lines.WithWordDelay(pace)),
		transcript.WithBackoff(cfg.Session.RestartBackoff, cfg.Session.MaxRestartBackoff),
		transcript.WithMaxFailures(cfg.Session.MaxRestartFailures),
		transcript.WithName("lines"),
	)
	if err := session.Start(); err != nil {
		return err
	}
	if err := src.Start(ctx); err != nil {
		return err
	}
	defer src.Stop()

	updates, unsubscribe := session.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		last := -1
		for p := range updates {
			for i := last + 1; i <= p.Index && i < len(units); i++ {
				fmt.Fprintf(w, "[%d/%d] %s\n", i+1, p.Total, units[i])
			}
			last = max(last, p.Index)
		}
	}()

	runner := prompter.NewRunner(session, src, prompter.WithSourceName("lines"))
	runErr := runner.Run(ctx)
	unsubscribe()
	<-printed

	p := session.Progress()
	fmt.Fprintf(w, "read %d of %d %ss (%.0f%%)\n", p.Index+1, p.Total, p.Unit, p.Fraction*100)
	if runErr != nil {
		return runErr
	}
	if p.Reason != "" {
		return fmt.Errorf("%w: %s: %s", errIncomplete, p.Reason, p.Error)
	}
	return nil
}

package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AlignmentChanged is set when the matcher settings differ. Sessions
	// started afterwards use the new matcher.
	AlignmentChanged bool

	// SessionChanged is set when stream settings differ. They apply to
	// sessions started afterwards.
	SessionChanged bool

	// RestartRequired lists changed top-level fields that only take effect
	// after a restart.
	RestartRequired []string
}

// HotReloadable reports whether the diff contains anything that can be
// applied to the running server.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.AlignmentChanged || d.SessionChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AlignmentChanged = !alignmentEqual(old.Alignment, new.Alignment)
	d.SessionChanged = old.Session != new.Session

	restart := map[string]bool{
		"server":     !serverEqual(old.Server, new.Server),
		"providers":  !reflect.DeepEqual(old.Providers, new.Providers),
		"credential": old.Credential != new.Credential,
	}
	for _, k := range slices.Sorted(maps.Keys(restart)) {
		if restart[k] {
			d.RestartRequired = append(d.RestartRequired, k)
		}
	}
	return d
}

// serverEqual ignores the log level, which is hot-reloadable.
func serverEqual(a, b ServerConfig) bool {
	a.LogLevel, b.LogLevel = "", ""
	return reflect.DeepEqual(a, b)
}

func alignmentEqual(a, b AlignmentConfig) bool {
	return a.Strategy == b.Strategy &&
		a.Threshold == b.Threshold &&
		a.WindowAhead == b.WindowAhead &&
		a.SoundsAlike == b.SoundsAlike &&
		ptrEqual(a.WindowBehind, b.WindowBehind) &&
		ptrEqual(a.StripChars, b.StripChars)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

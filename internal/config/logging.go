package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and carries raw provider
// payloads: full request and response JSON, message bodies included.
// -8 is the slot most slog extensions use for trace. Enable it only
// while chasing a provider bug; the volume is unreasonable otherwise.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps a level name from config to an slog.Level.
// Matching ignores case and surrounding whitespace; the empty string
// means info. "warning" is accepted as a spelling of "warn".
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// ReplaceLogLevelNames is a ReplaceAttr hook for slog.HandlerOptions.
// slog prints unknown levels relative to the nearest named one, so
// LevelTrace would come out as "DEBUG-4"; this renames it to "TRACE".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

package source

import "github.com/rs/zerolog"

// ZerologHook forwards zerolog messages to a diagnostic source, so a host
// that logs with zerolog can have its own warnings recorded next to the
// telemetry stack's events. Install with logger.Hook(ZerologHook{Source: s}).
//
// Only the message is forwarded; fields already added to the zerolog event
// are not visible to hooks.
type ZerologHook struct {
	Source *Source
}

// Run implements zerolog.Hook
func (h ZerologHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if h.Source == nil {
		return
	}
	lvl, ok := fromZerolog(level)
	if !ok || !h.Source.IsEnabled(lvl) {
		return
	}
	h.Source.Write(lvl, msg)
}

func fromZerolog(level zerolog.Level) (Level, bool) {
	switch level {
	case zerolog.PanicLevel, zerolog.FatalLevel:
		return LevelCritical, true
	case zerolog.ErrorLevel:
		return LevelError, true
	case zerolog.WarnLevel:
		return LevelWarning, true
	case zerolog.InfoLevel:
		return LevelInformational, true
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return LevelVerbose, true
	case zerolog.NoLevel:
		return LevelLogAlways, true
	}
	return 0, false
}

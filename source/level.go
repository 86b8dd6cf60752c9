package source

import (
	"fmt"
	"strings"
)

// Level is the severity of a diagnostic event. Lower is more severe; a
// subscription at level L receives every event with Level <= L.
type Level int8

const (
	LevelLogAlways Level = iota
	LevelCritical
	LevelError
	LevelWarning
	LevelInformational
	LevelVerbose
)

var levelNames = [...]string{
	LevelLogAlways:     "logalways",
	LevelCritical:      "critical",
	LevelError:         "error",
	LevelWarning:       "warning",
	LevelInformational: "informational",
	LevelVerbose:       "verbose",
}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int8(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level name (case-insensitive). "warn", "info" and
// "debug" are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "warn":
		return LevelWarning, nil
	case "info":
		return LevelInformational, nil
	case "debug", "trace":
		return LevelVerbose, nil
	}
	for lvl, n := range levelNames {
		if n == name {
			return Level(lvl), nil
		}
	}
	return LevelLogAlways, fmt.Errorf("unknown level %q", s)
}

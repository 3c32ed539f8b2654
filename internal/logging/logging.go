package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. level follows CALDAV_DEBUG: 0=info,
// 1=debug, 2=trace; anything else falls back to info.
func New(level int) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch level {
	case 1:
		lvl = zerolog.DebugLevel
	case 2:
		lvl = zerolog.TraceLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

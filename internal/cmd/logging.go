package cmd

import (
	"fmt"
	"io"
	"log/slog"
)

// string representation of custom slog.Level levels; defining them as constants is
// recommended at: https://pkg.go.dev/log/slog#example-HandlerOptions-CustomLevels.
const (
	LevelDebugString = "debug"
	LevelInfoString  = "info"
	LevelWarnString  = "warning"
	LevelErrorString = "error"
)

func SupportedLogLevels() [4]string {
	return [4]string{LevelDebugString, LevelInfoString, LevelWarnString, LevelErrorString}
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case LevelDebugString:
		return slog.LevelDebug, nil
	case LevelInfoString:
		return slog.LevelInfo, nil
	case LevelWarnString:
		return slog.LevelWarn, nil
	case LevelErrorString:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: supported values are %v", level, SupportedLogLevels())
	}
}

// NewHandler takes an io.Writer and returns a new log handler of type
// slog.JSONHandler. It panics on an unknown level, callers validate the level
// with ParseLevel first.
func NewHandler(out io.Writer, level string) *slog.JSONHandler {
	slevel, err := ParseLevel(level)
	if err != nil {
		panic(err.Error())
	}

	return slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: slevel,

		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level, _ := a.Value.Any().(slog.Level)

				switch {
				case level < slog.LevelInfo:
					a.Value = slog.StringValue(LevelDebugString)
				case level < slog.LevelWarn:
					a.Value = slog.StringValue(LevelInfoString)
				case level < slog.LevelError:
					a.Value = slog.StringValue(LevelWarnString)
				default:
					a.Value = slog.StringValue(LevelErrorString)
				}
			}

			if a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	})
}

package librealtime

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoggerConfig selects level and output format of the zerolog backed Logger.
type LoggerConfig struct {
	// Level is one of trace, debug, info, warn, error. Empty means info.
	Level string
	// Format is json or console. Empty means json.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a Logger writing through zerolog.
func NewZerologLogger(cfg LoggerConfig) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return &zerologLogger{zl: zl}
}

// WrapZerolog adapts an already configured zerolog.Logger.
func WrapZerolog(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

// NewLoggerFromConfig builds the diagnostics logger for an environment: development is
// verbose, production only reports warnings and errors.
func NewLoggerFromConfig(cfg Config, out io.Writer) Logger {
	level := cfg.LogLevel
	if level == "" {
		if cfg.Env == EnvProduction {
			level = "warn"
		} else {
			level = "debug"
		}
	}

	format := cfg.LogFormat
	if format == "" && cfg.Env == EnvDevelopment {
		format = "console"
	}

	return NewZerologLogger(LoggerConfig{Level: level, Format: format, Output: out})
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) WithField(key string, value any) Logger {
	return &zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) Debug(args ...any) { l.zl.Debug().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

func (l *zerologLogger) Debugln(args ...any) { l.zl.Debug().Msg(sprintln(args...)) }

func (l *zerologLogger) Info(args ...any) { l.zl.Info().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Infof(format string, args ...any) { l.zl.Info().Msgf(format, args...) }

func (l *zerologLogger) Infoln(args ...any) { l.zl.Info().Msg(sprintln(args...)) }

func (l *zerologLogger) Warn(args ...any) { l.zl.Warn().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Warnf(format string, args ...any) { l.zl.Warn().Msgf(format, args...) }

func (l *zerologLogger) Warnln(args ...any) { l.zl.Warn().Msg(sprintln(args...)) }

func (l *zerologLogger) Error(args ...any) { l.zl.Error().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

func (l *zerologLogger) Errorln(args ...any) { l.zl.Error().Msg(sprintln(args...)) }

// zerolog already terminates every event with a newline.
func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

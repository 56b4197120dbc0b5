package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Init replaces it; the With*
// helpers derive children from whatever it currently is, so packages
// holding a child from before Init keep logging, just without the
// configured output.
var Logger zerolog.Logger

// Level is a severity name as it appears in configuration. The values
// match zerolog's own level names, which is what lets Init hand them
// straight to zerolog.ParseLevel.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config selects severity and output for the root logger.
type Config struct {
	Level      Level     // events below this are dropped; unknown or empty means info
	JSONOutput bool      // raw JSON lines instead of the human console form
	Output     io.Writer // defaults to stdout
}

// Init builds the root logger and sets the global severity floor.
func Init(cfg Config) {
	lvl, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent tags a child logger with the subsystem it logs for.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithStore, WithGoods and WithOpID tag a child logger with the
// identifier the surrounding code is working on, so log lines stay
// greppable by id rather than by message text.

func WithStore(id string) zerolog.Logger {
	return Logger.With().Str("store_id", id).Logger()
}

func WithGoods(id string) zerolog.Logger {
	return Logger.With().Str("goods_id", id).Logger()
}

func WithOpID(id string) zerolog.Logger {
	return Logger.With().Str("op_id", id).Logger()
}

// Shorthands for one-off messages with no fields worth attaching.

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Errorf logs err with msg as its context line.
func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }

package logger

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type DBSQLLogger struct {
	zerolog.Logger
}

// Track is a convenience function to track time spent
func (l *DBSQLLogger) Track(msg string) (string, time.Time) {
	return msg, time.Now()
}

// Duration logs a debug message with the time elapsed between now and the start.
func (l *DBSQLLogger) Duration(msg string, start time.Time) {
	l.Debug().Msgf("%v elapsed time: %v", msg, time.Since(start))
}

var Logger = &DBSQLLogger{
	zerolog.New(os.Stderr).With().Timestamp().Logger(),
}

// enable pretty printing for interactive terminals and json for production.
func init() {
	// for tty terminal enable pretty logs
	if isatty.IsTerminal(os.Stdout.Fd()) && runtime.GOOS != "windows" {
		Logger.Logger = Logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		// UNIX Time is faster and smaller than most timestamps
		// If you set zerolog.TimeFieldFormat to an empty string,
		// logs will write with UNIX time.
		zerolog.TimeFieldFormat = ""
	}
	// by default only log warnings and above
	Logger.Logger = Logger.Level(zerolog.WarnLevel)
}

// SetLogLevel sets the log level of the package-wide logger. Accepts
// zerolog level names: trace, debug, info, warn, error, fatal, panic, disabled.
func SetLogLevel(l string) error {
	switch l {
	case "none", "disabled":
		Logger.Logger = Logger.Level(zerolog.Disabled)
		return nil
	}

	lvl, err := zerolog.ParseLevel(l)
	if err != nil {
		return err
	}
	Logger.Logger = Logger.Level(lvl)
	return nil
}

// SetLogOutput redirects the package-wide logger.
func SetLogOutput(w io.Writer) {
	Logger.Logger = Logger.Output(w)
}

// Trace logs a trace message.
func Trace() *zerolog.Event {
	return Logger.Trace()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Err starts a new message with error level with err as a field if not nil or
// with info level if err is nil.
func Err(err error) *zerolog.Event {
	return Logger.Err(err)
}

// WithContext sets connectionId, correlationId, and queryId to be used as fields.
func WithContext(connectionId string, correlationId string, queryId string) *DBSQLLogger {
	return &DBSQLLogger{Logger.With().Str("connId", connectionId).Str("corrId", correlationId).Str("queryId", queryId).Logger()}
}

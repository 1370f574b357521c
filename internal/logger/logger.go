package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	*zerolog.Logger
	component string
}

var logLevel = map[string]zerolog.Level{
	"development": zerolog.DebugLevel,
	"test":        zerolog.WarnLevel,
	"staging":     zerolog.InfoLevel,
	"production":  zerolog.InfoLevel,
}

// Config represents logger configuration
type Config struct {
	AppEnv string
	Out    io.Writer
}

// New creates a logger for a component using APP_ENV and stdout.
func New(component string) *Logger {
	return NewWithConfig(component, Config{AppEnv: os.Getenv("APP_ENV"), Out: os.Stdout})
}

// NewWithWriter creates a logger that writes to w. Tests use it to capture
// or discard output.
func NewWithWriter(component string, w io.Writer) *Logger {
	return NewWithConfig(component, Config{AppEnv: os.Getenv("APP_ENV"), Out: w})
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{Logger: &l, component: "nop"}
}

func NewWithConfig(component string, config Config) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	production := config.AppEnv == "production"

	console := zerolog.ConsoleWriter{
		Out:     out,
		NoColor: production,
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %s", component, i)
		},
		FormatLevel: func(i interface{}) string {
			level, ok := i.(string)
			if !ok {
				return "???"
			}
			switch level {
			case "debug":
				return "\033[36m[DEBUG]\033[0m"
			case "info":
				return "\033[34m[INFO]\033[0m"
			case "warn":
				return "\033[33m[WARN]\033[0m"
			case "error":
				return "\033[31m[ERROR]\033[0m"
			case "fatal":
				return "\033[35m[FATAL]\033[0m"
			default:
				return fmt.Sprintf("[%s]", level)
			}
		},
	}

	var logger zerolog.Logger
	if production {
		console.TimeFormat = ""
		logger = zerolog.New(console).Level(getLogLevel(config.AppEnv))
	} else {
		console.TimeFormat = "2006-01-02 15:04:05"
		logger = zerolog.New(console).
			Level(getLogLevel(config.AppEnv)).
			With().
			Timestamp().
			Str("component", component).
			Logger()
	}

	return &Logger{Logger: &logger, component: component}
}

func getLogLevel(env string) zerolog.Level {
	if level, exists := logLevel[env]; exists {
		return level
	}
	return zerolog.DebugLevel
}

// Component returns the name the logger was created with.
func (l *Logger) Component() string { return l.component }

func (l *Logger) LogDebugf(format string, v ...interface{}) { l.Debug().Msgf(format, v...) }
func (l *Logger) LogInfof(format string, v ...interface{})  { l.Info().Msgf(format, v...) }
func (l *Logger) LogWarnf(format string, v ...interface{})  { l.Warn().Msgf(format, v...) }
func (l *Logger) LogErrorf(format string, v ...interface{}) { l.Error().Msgf(format, v...) }

func (l *Logger) LogInfo(msg string) { l.Info().Msg(msg) }

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

// WithFields adds fields to an info event.
func (l *Logger) WithFields(fields map[string]interface{}) *zerolog.Event {
	event := l.Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

// Job returns a child logger tagged with a job id.
func (l *Logger) Job(jobID string) *Logger {
	child := l.Logger.With().Str("job_id", jobID).Logger()
	return &Logger{Logger: &child, component: l.component}
}

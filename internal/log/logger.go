// Package log provides the logger used by the command line tools. The codec
// packages never log; they return errors.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)

	Info(args ...any)
	Infof(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	WithField(field string, value any) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

type Fields map[string]any

// Options configures the global logger.
type Options struct {
	Level  string          `mapstructure:"level"`
	Format string          `mapstructure:"format"` // text or json.
	File   FileAppenderOpt `mapstructure:"file"`
	// Output receives log lines in addition to the file appender. Defaults to stderr.
	Output io.Writer `mapstructure:"-"`
}

// FileAppenderOpt configures rotation of the log file. An empty Filename disables the file output.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

var logger = &logrusLogger{entry: logrus.NewEntry(logrus.New())}

type logrusLogger struct {
	entry *logrus.Entry
}

// GetLogger returns the global logger.
func GetLogger() Logger {
	return logger
}

// Init configures the global logger.
func Init(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	logger.entry = l.(*logrusLogger).entry
	return nil
}

// New returns a logger configured by opts.
func New(opts Options) (Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	log := logrus.New()
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(&prefixed.TextFormatter{
			DisableColors:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			ForceFormatting: true,
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.File.Filename != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File.Filename,
			MaxSize:    opts.File.MaxSize,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAge,
			Compress:   opts.File.Compress,
		})
	}
	log.SetOutput(out)
	return &logrusLogger{entry: logrus.NewEntry(log)}, nil
}

func (l *logrusLogger) Debug(args ...any) { l.entry.Debug(args...) }

func (l *logrusLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) Info(args ...any) { l.entry.Info(args...) }

func (l *logrusLogger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }

func (l *logrusLogger) Warn(args ...any) { l.entry.Warn(args...) }

func (l *logrusLogger) Warnf(format string, args ...any) { l.entry.Warnf(format, args...) }

func (l *logrusLogger) Error(args ...any) { l.entry.Error(args...) }

func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(field string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(field, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

package logx

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging surface every engine and background
// task is handed at construction; nothing in the module calls the bare
// stdlib log package or fmt.Println for operational output.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing to w (os.Stdout by default) at the given
// level. Level parsing errors fall back to logrus.InfoLevel.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a child Logger carrying fields merged on top of the
// receiver's own fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields.toLogrus())}
}

func (l *Logger) Debug(msg string) { l.entry.Debug(msg) }
func (l *Logger) Info(msg string)  { l.entry.Info(msg) }
func (l *Logger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *Logger) Error(msg string) { l.entry.Error(msg) }

// WithError attaches err (the proxy's bferr.Error or any error) as the
// "error" field, the way logger.Entry surfaces a parent error chain.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Package roslog backs ros.Logger with logrus, matching the level and
// formatting conventions the teacher's own (unretrieved) default logger
// exposed: Debug/Debugf, Info/Infof, Warn/Warnf, Error/Errorf, Fatal/Fatalf.
package roslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger adapts a *logrus.Logger to the small interface ros.Node expects.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger that writes to stderr with the text formatter, at
// Info level by default — matching a freshly started node that hasn't
// been told to run verbose.
func New(callerID string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l.WithField("node", callerID)}
}

// NewVerbose is the same as New but at Debug level, for development use.
func NewVerbose(callerID string) *Logger {
	log := New(callerID)
	log.entry.Logger.SetLevel(logrus.DebugLevel)
	return log
}

func (l *Logger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// WithField returns a derived Logger carrying one extra structured
// field, used to tag log lines with the topic/service/slot a given
// process record belongs to.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

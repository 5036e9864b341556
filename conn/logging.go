package conn

import "github.com/sirupsen/logrus"

// Logger is the subset of *logrus.Entry the connection state machine
// uses for Debug-level messages on disconnect, request send and
// status-line receipt; suspension points are not logged. Passing a real
// *logrus.Entry (e.g. logrus.NewEntry(logrus.StandardLogger())) wires
// this into the rest of an application's structured logging.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	Debugf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) WithField(string, interface{}) *logrus.Entry {
	e := logrus.NewEntry(discardLoggerInstance)
	return e
}

func (discardLogger) Debugf(string, ...interface{}) {}

var discardLoggerInstance = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}()

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func effectiveLogger(l Logger) Logger {
	if l == nil {
		return discardLogger{}
	}
	return l
}

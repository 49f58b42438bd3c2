package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

// schedulerLogger carries admission and run queue decisions. Its message key
// is scheduler_msg so both streams can share one output and still be told
// apart.
var schedulerLogger *logrus.Logger

var schedulerFields = logrus.FieldMap{
	logrus.FieldKeyTime:  "time",
	logrus.FieldKeyLevel: "level",
	logrus.FieldKeyMsg:   "scheduler_msg",
}

func init() {
	logger = newLogger(nil)
	schedulerLogger = newLogger(schedulerFields)
}

func newLogger(fields logrus.FieldMap) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(textFormatter(fields))
	l.SetLevel(logrus.InfoLevel)
	return l
}

func textFormatter(fields logrus.FieldMap) logrus.Formatter {
	return &logrus.TextFormatter{FullTimestamp: true, FieldMap: fields}
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetSchedulerLogger() *logrus.Logger {
	return schedulerLogger
}

// SetLogLevel sets both loggers.
func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	schedulerLogger.SetLevel(logLevel)
	return nil
}

// SetFormat switches both loggers to "text" or "json".
func SetFormat(format string) error {
	switch format {
	case "", "text":
		logger.SetFormatter(textFormatter(nil))
		schedulerLogger.SetFormatter(textFormatter(schedulerFields))
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
		schedulerLogger.SetFormatter(&logrus.JSONFormatter{FieldMap: schedulerFields})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}

func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	schedulerLogger.SetOutput(w)
}

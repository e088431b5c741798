package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Create the service logger.
func newLogger(enableDebugLogging bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	configureLogger(logger, enableDebugLogging)

	return logger
}

func configureLogger(logger *logrus.Logger, enableDebugLogging bool) {
	if enableDebugLogging {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

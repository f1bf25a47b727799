package config

import (
	"io"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies the log level and format to logger and directs its
// output to w (nil keeps the current output).
func (c *Config) ConfigureLogging(logger *logrus.Logger, w io.Writer) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return invalid("log_level", c.LogLevel)
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if w != nil {
		logger.SetOutput(w)
	}
	return nil
}

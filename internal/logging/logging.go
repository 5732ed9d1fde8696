package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"offer-attribution/internal/config"
)

// Setup configures the standard logrus logger from cfg.
func Setup(cfg config.LoggingConfig) error {
	return configure(log.StandardLogger(), cfg, os.Stderr)
}

// New returns a logger configured from cfg writing to out.
func New(cfg config.LoggingConfig, out io.Writer) (*log.Logger, error) {
	logger := log.New()
	if err := configure(logger, cfg, out); err != nil {
		return nil, err
	}
	return logger, nil
}

func configure(logger *log.Logger, cfg config.LoggingConfig, out io.Writer) error {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

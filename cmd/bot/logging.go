package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging writes human-readable logs to stderr and, when path is set,
// JSON logs to the session log file.
func setupLogging(level, path string) (func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log_level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	if path == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	return func() { _ = f.Close() }, nil
}

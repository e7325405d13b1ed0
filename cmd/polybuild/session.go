package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/polybuild"
	"github.com/loykin/polybuild/internal/config"
	"github.com/loykin/polybuild/internal/history"
)

// session is what one command invocation opens from the configuration:
// the logger, the history sink and the project holding the models.
type session struct {
	cfg     *polybuild.Config
	log     *slog.Logger
	project *polybuild.Project
	closers []io.Closer
}

func loadConfig(g *GlobalFlags) (*polybuild.Config, error) {
	if g.ConfigPath == "" {
		return config.Empty(), nil
	}
	c, err := polybuild.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return c, nil
}

func openSession(g *GlobalFlags, console io.Writer, opts ...polybuild.Option) (*session, error) {
	c, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		c.File.Log.Level = g.LogLevel
	}
	log, logCloser, err := polybuild.NewLogger(c, console)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: c, log: log, closers: []io.Closer{logCloser}}

	hist, err := polybuild.NewHistorySink(c.File.History.DSN)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("history sink: %w", err)
	}
	hist = history.WithTimeout(hist, c.File.History.Timeout)

	s.project, err = polybuild.Open(c, log, hist, opts...)
	if err != nil {
		if hc, ok := hist.(io.Closer); ok {
			_ = hc.Close()
		}
		_ = s.Close()
		return nil, err
	}
	// the project closes the history sink
	s.closers = append([]io.Closer{s.project}, s.closers...)
	return s, nil
}

func (s *session) Close() error {
	var errs []error
	for _, c := range s.closers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

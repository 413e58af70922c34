package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/nhle/inbox-triage/internal/app"
	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
)

// env is what every subcommand needs before it can do work.
type env struct {
	cfg    *model.AppConfig
	log    *slog.Logger
	app    *app.App
	closer io.Closer
}

func initEnv() (*env, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := app.Open(cfg, log, credential.NewKeyring())
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &env{cfg: cfg, log: log, app: a, closer: closer}, nil
}

func (e *env) Close() {
	if err := e.app.Close(); err != nil {
		e.log.Error("closing resources failed", "error", err)
	}
	e.closer.Close()
}

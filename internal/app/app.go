// Package app wires configuration, storage and the pipeline components
// together for the command-line entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nhle/inbox-triage/internal/ai"
	"github.com/nhle/inbox-triage/internal/autoreply"
	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/escalation"
	"github.com/nhle/inbox-triage/internal/ingest"
	"github.com/nhle/inbox-triage/internal/lock"
	"github.com/nhle/inbox-triage/internal/logger"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
	appsync "github.com/nhle/inbox-triage/internal/sync"
	"github.com/nhle/inbox-triage/internal/triage"
)

// App holds the long-lived resources shared by every command.
type App struct {
	cfg    *model.AppConfig
	logger *slog.Logger
	store  *store.SQLStore
	creds  credential.Store
	redis  *redis.Client
}

// Open connects to the store, and to redis when configured.
func Open(cfg *model.AppConfig, log *slog.Logger, creds credential.Store) (*App, error) {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &App{cfg: cfg, logger: log, store: s, creds: creds}

	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		a.redis = client
	}
	return a, nil
}

// Store returns the shared store.
func (a *App) Store() *store.SQLStore {
	return a.store
}

// Close releases the store and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// Monitor builds the escalation monitor.
func (a *App) Monitor() *escalation.Monitor {
	return escalation.NewMonitor(
		a.store,
		a.cfg.Escalation.BatchSize,
		a.cfg.Escalation.Concurrency,
		time.Duration(a.cfg.Defaults.EscalationTimeoutMinutes)*time.Minute,
		logger.Component(a.logger, "escalation"),
	)
}

// Pipeline is the ingest, triage and reply chain for all accounts.
type Pipeline struct {
	Syncer     *appsync.Syncer
	Dispatcher *triage.Dispatcher
	Backlog    *triage.Backlog
}

// Close drains queued analysis work.
func (p *Pipeline) Close() {
	p.Dispatcher.Close()
}

// Pipeline builds the ingestion chain. Accounts whose credentials cannot
// be resolved are skipped with a warning.
func (a *App) Pipeline(ctx context.Context) (*Pipeline, error) {
	apiKey, err := credential.Lookup(a.creds, credential.AnalysisAPIKey, a.cfg.Analysis.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("analysis API key: %w", err)
	}
	client := ai.New(a.cfg.Analysis, apiKey)

	connectors := a.connectors(ctx)

	responder := autoreply.NewResponder(
		a.store, client, connectors, a.cfg.Analysis.Timeout(),
		logger.Component(a.logger, "autoreply"),
	)
	analyzer := triage.NewAnalyzer(
		a.store, client, responder, a.cfg.Analysis.Timeout(),
		logger.Component(a.logger, "triage"),
	)
	dispatcher := triage.NewDispatcher(
		analyzer, a.cfg.Triage.Workers, a.cfg.Triage.QueueSize,
		logger.Component(a.logger, "dispatcher"),
	)
	backlog := triage.NewBacklog(
		a.store, dispatcher,
		time.Duration(a.cfg.Triage.BacklogMinAgeSec)*time.Second,
		a.cfg.Triage.QueueSize,
		logger.Component(a.logger, "backlog"),
	)

	engine := ingest.NewEngine(a.store, dispatcher, logger.Component(a.logger, "ingest"))
	syncer := appsync.New(
		a.store, engine, a.locker(), holderID(),
		a.cfg.Sync, a.cfg.Defaults,
		logger.Component(a.logger, "sync"),
	)
	for _, acct := range a.cfg.Accounts {
		if conn, ok := connectors[acct.ID]; ok {
			syncer.Register(acct, conn)
		}
	}

	return &Pipeline{Syncer: syncer, Dispatcher: dispatcher, Backlog: backlog}, nil
}

// locker picks the redis lease when redis is configured.
func (a *App) locker() lock.Locker {
	if a.redis != nil {
		return lock.NewRedisLocker(a.redis, "triaged:")
	}
	return lock.NewStoreLocker(a.store)
}

// holderID names this process in sync leases.
func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

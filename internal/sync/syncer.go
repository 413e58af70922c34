// Package sync pulls new mail from every configured account into the
// ingestion engine, one exclusive sync per user at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-triage/internal/failure"
	"github.com/nhle/inbox-triage/internal/ingest"
	"github.com/nhle/inbox-triage/internal/lock"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/store"
)

// ErrSyncInProgress is returned when another sync for the same user holds
// the lease. The caller should not queue a retry; the next tick will.
var ErrSyncInProgress = errors.New("sync already in progress for user")

// ErrUnknownAccount is returned by SyncAccount for an unregistered id.
var ErrUnknownAccount = errors.New("unknown account")

// SyncState represents the current state of an account sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalText lets statuses render by name in JSON.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SyncStatus holds the sync state for a single account.
type SyncStatus struct {
	AccountID  string        `json:"account_id"`
	UserID     string        `json:"user_id"`
	State      SyncState     `json:"state"`
	LastSync   time.Time     `json:"last_sync,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
	AuthFailed bool          `json:"auth_failed,omitempty"`
	LastResult ingest.Result `json:"last_result"`
}

type accountEntry struct {
	cfg  model.AccountConfig
	conn source.Connector
}

// Syncer orchestrates mailbox syncs for registered accounts.
type Syncer struct {
	store    store.Store
	engine   *ingest.Engine
	locker   lock.Locker
	holder   string
	cfg      model.SyncConfig
	defaults model.DefaultsConfig
	logger   *slog.Logger
	now      func() time.Time

	mu       gosync.Mutex
	accounts map[string]accountEntry
	statuses map[string]*SyncStatus
}

// New creates a Syncer. holder identifies this process in sync leases;
// each SyncAccount call leases under its own token derived from it.
func New(
	s store.Store,
	engine *ingest.Engine,
	locker lock.Locker,
	holder string,
	cfg model.SyncConfig,
	defaults model.DefaultsConfig,
	logger *slog.Logger,
) *Syncer {
	return &Syncer{
		store:    s,
		engine:   engine,
		locker:   locker,
		holder:   holder,
		cfg:      cfg,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]accountEntry),
		statuses: make(map[string]*SyncStatus),
	}
}

// Register adds an account and the connector used to reach it.
func (s *Syncer) Register(acct model.AccountConfig, conn source.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acct.ID] = accountEntry{cfg: acct, conn: conn}
	s.statuses[acct.ID] = &SyncStatus{AccountID: acct.ID, UserID: acct.UserID, State: SyncIdle}
}

// Statuses returns the sync status of every registered account, ordered
// by account id.
func (s *Syncer) Statuses() []SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SyncStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b SyncStatus) int { return strings.Compare(a.AccountID, b.AccountID) })
	return out
}

// SyncAll syncs every enabled account in turn. Per-account failures are
// logged and recorded in the statuses; they do not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.accounts))
	for id, e := range s.accounts {
		if e.cfg.Enabled {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SyncAccount(ctx, id); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				s.logger.Debug("sync skipped, already running", "account_id", id)
				continue
			}
			s.logger.Warn("account sync failed", "account_id", id, "error", err)
		}
	}
}

// SyncAccount fetches and ingests new mail for one account. It returns
// ErrSyncInProgress without doing anything when the account's user
// already has a sync running anywhere.
func (s *Syncer) SyncAccount(ctx context.Context, accountID string) (ingest.Result, error) {
	s.mu.Lock()
	entry, ok := s.accounts[accountID]
	s.mu.Unlock()
	if !ok {
		return ingest.Result{}, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	acct := entry.cfg

	key := "sync:user:" + acct.UserID
	token := s.holder + "/" + uuid.NewString()
	got, err := s.locker.TryAcquire(ctx, key, token, time.Duration(s.cfg.LeaseTTLSec)*time.Second)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("acquiring sync lease for user %s: %w", acct.UserID, err)
	}
	if !got {
		return ingest.Result{}, ErrSyncInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("releasing sync lease failed", "user_id", acct.UserID, "error", err)
		}
	}()

	s.setStatus(accountID, SyncRunning, ingest.Result{}, nil)

	res, err := s.syncFolders(ctx, entry)
	if err != nil {
		s.setStatus(accountID, SyncError, res, err)
		return res, err
	}
	s.setStatus(accountID, SyncIdle, res, nil)

	if res.Created > 0 || res.Errors > 0 {
		s.logger.Info("account synced",
			"account_id", accountID,
			"created", res.Created,
			"skipped", res.Skipped,
			"errors", res.Errors,
		)
	}
	return res, nil
}

func (s *Syncer) syncFolders(ctx context.Context, entry accountEntry) (ingest.Result, error) {
	acct := entry.cfg

	target, err := s.target(ctx, acct)
	if err != nil {
		return ingest.Result{}, err
	}

	var (
		total ingest.Result
		errs  []error
	)
	for _, folder := range acct.Folders {
		res, err := s.syncFolder(ctx, entry, target, folder)
		total.Add(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("folder %s: %w", folder, err))
		}
	}
	return total, errors.Join(errs...)
}

// syncFolder ingests one folder. The cursor moves to the time the fetch
// started, and only when every message was fetched and stored, so
// anything missed is fetched again and deduplicated next time.
func (s *Syncer) syncFolder(
	ctx context.Context,
	entry accountEntry,
	target ingest.Target,
	folder string,
) (ingest.Result, error) {
	acct := entry.cfg
	log := s.logger.With("account_id", acct.ID, "folder", folder)

	since, err := s.since(ctx, acct.ID, folder)
	if err != nil {
		return ingest.Result{}, err
	}
	started := s.now().UTC()

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.FetchTimeoutSec)*time.Second)
	defer cancel()

	res, err := s.engine.Ingest(fetchCtx, target, entry.conn.FetchSince(fetchCtx, folder, since))
	if err != nil {
		if failure.IsAuth(err) {
			log.Warn("mailbox rejected credentials", "error", err)
		} else {
			log.Warn("fetching folder failed", "error", err)
		}
		return res, err
	}
	if res.Errors > 0 {
		log.Warn("cursor held back after ingestion errors", "errors", res.Errors)
		return res, nil
	}

	if err := s.store.SetSyncCursor(ctx, acct.ID, folder, started); err != nil {
		return res, &failure.PersistenceError{Op: "set sync cursor", ID: acct.ID + "/" + folder, Err: err}
	}
	return res, nil
}

// since returns where the next fetch of folder starts.
func (s *Syncer) since(ctx context.Context, accountID, folder string) (time.Time, error) {
	cursor, ok, err := s.store.GetSyncCursor(ctx, accountID, folder)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading sync cursor: %w", err)
	}
	if !ok {
		return s.now().UTC().Add(-time.Duration(s.cfg.InitialLookbackHours) * time.Hour), nil
	}
	return cursor.Add(-time.Duration(s.cfg.OverlapMinutes) * time.Minute), nil
}

func (s *Syncer) target(ctx context.Context, acct model.AccountConfig) (ingest.Target, error) {
	tenant, err := s.store.GetTenant(ctx, acct.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return ingest.Target{}, &failure.DataIntegrityError{
			Entity: "account", ID: acct.ID, Reason: fmt.Sprintf("tenant %s not in directory", acct.TenantID),
		}
	}
	if err != nil {
		return ingest.Target{}, fmt.Errorf("loading tenant %s: %w", acct.TenantID, err)
	}

	sla := tenant.SLA()
	if sla <= 0 {
		sla = time.Duration(s.defaults.SLAHours) * time.Hour
	}
	return ingest.Target{
		TenantID:    acct.TenantID,
		OwnerUserID: acct.UserID,
		AccountID:   acct.ID,
		SLA:         sla,
	}, nil
}

// setStatus updates the sync status for an account.
func (s *Syncer) setStatus(accountID string, state SyncState, res ingest.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[accountID]
	if !ok {
		return
	}

	status.State = state
	status.AuthFailed = failure.IsAuth(err)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.LastError = ""
	}
	if state != SyncRunning {
		status.LastResult = res
	}
	if state == SyncIdle {
		status.LastSync = s.now()
	}
}

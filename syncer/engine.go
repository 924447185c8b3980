// Package syncer synchronizes a docstow data root with a remote backend.
// A run is explicit: validate settings, check the hosted quota, transfer the
// whole tree in one direction, then record and announce the outcome.
package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
	"github.com/aigotowork/docstow/internal/fsutil"
)

// DefaultOpTimeout bounds every remote request.
const DefaultOpTimeout = 60 * time.Second

// State is the phase of the latest run.
type State string

// Run states.
const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Event is a notification sent to the UI.
type Event string

// Notification events.
const (
	EventSyncing Event = "syncing"
	EventSynced  Event = "synced"
	EventError   Event = "sync-error"
)

// Direction selects what a run transfers.
type Direction int

const (
	// Auto pulls when the remote holds a newer snapshot than the last
	// sync of this machine, and pushes otherwise.
	Auto Direction = iota
	Push
	Pull
)

func (d Direction) String() string {
	switch d {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "auto"
	}
}

// Status describes the latest run.
type Status struct {
	State     State
	Message   string
	UpdatedAt time.Time
	LastSync  time.Time
}

// Notifier receives status transitions.
type Notifier interface {
	Notify(event Event, status Status)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event Event, status Status)

// Notify implements Notifier.
func (f NotifierFunc) Notify(event Event, status Status) { f(event, status) }

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBackendFactory sets how backends are built for the configured mode.
func WithBackendFactory(f BackendFactory) EngineOption {
	return func(e *Engine) { e.factory = f }
}

// WithCredentials sets where secrets are read from. The default is the OS keychain.
func WithCredentials(c CredentialStore) EngineOption {
	return func(e *Engine) { e.creds = c }
}

// WithNotifier sets the receiver of status transitions.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithAfterPull sets a hook run after a pull replaced the local data.
func WithAfterPull(fn func(ctx context.Context) error) EngineOption {
	return func(e *Engine) { e.afterPull = fn }
}

// WithQuotaTable replaces DefaultQuotas.
func WithQuotaTable(table map[string]int64) EngineOption {
	return func(e *Engine) { e.quotas = table }
}

// WithOpTimeout sets the bound of each remote request.
func WithOpTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.opTimeout = d
		}
	}
}

// WithRetry sets the per-file retry policy of mirroring backends.
func WithRetry(attempts int, delay time.Duration) EngineOption {
	return func(e *Engine) {
		e.retryAttempts = attempts
		e.retryDelay = delay
	}
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger docstow.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine runs sync against the data root of a store. Only one run is
// active at a time.
type Engine struct {
	store     docstow.Store
	config    *collection.Config
	factory   BackendFactory
	creds     CredentialStore
	notifier  Notifier
	afterPull func(ctx context.Context) error
	quotas    map[string]int64
	opTimeout time.Duration
	logger    docstow.Logger
	now       func() time.Time

	retryAttempts int
	retryDelay    time.Duration

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	status Status
}

// New creates an engine for store. Settings and state live in the sync
// namespace of config.
func New(store docstow.Store, config *collection.Config, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		config:    config,
		creds:     KeyringCredentials{},
		quotas:    DefaultQuotas,
		opTimeout: DefaultOpTimeout,
		logger:    docstow.NewNoopLogger(),
		now:       time.Now,
		status:    Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs a sync. At application start (isStart) the direction is
// chosen by comparing remote and local sync times; otherwise local data is
// pushed.
func (e *Engine) Start(ctx context.Context, isStart bool) error {
	dir := Push
	if isStart {
		dir = Auto
	}
	return e.Run(ctx, dir)
}

// Stop cancels the active run, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Status returns the state of the latest run of this engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Run performs one sync. Failures are recorded in the sync state and
// announced before being returned; a failed run is never retried.
func (e *Engine) Run(ctx context.Context, dir Direction) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	// State writes outlive a canceled run.
	stateCtx := context.WithoutCancel(ctx)

	e.transition(stateCtx, StateSyncing, "", time.Time{})
	at, err := e.run(ctx, dir)
	if err != nil {
		err = classify("sync failed", err)
		e.logger.Error("Sync failed",
			docstow.Field{Key: "direction", Value: dir.String()},
			docstow.Field{Key: "kind", Value: string(KindOf(err))},
			docstow.Field{Key: "error", Value: err})
		e.transition(stateCtx, StateError, err.Error(), time.Time{})
		return err
	}

	e.logger.Info("Sync finished", docstow.Field{Key: "at", Value: at.Format(time.RFC3339)})
	e.transition(stateCtx, StateSuccess, "", at)
	return nil
}

func (e *Engine) run(ctx context.Context, dir Direction) (time.Time, error) {
	cfg, err := LoadConfig(ctx, e.config)
	if err != nil {
		return time.Time{}, Wrap(KindConfig, "failed to read sync settings", err)
	}
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}

	secret, err := e.creds.Secret(cfg.Mode, cfg.Username())
	if err != nil {
		return time.Time{}, Wrap(KindConfig, "failed to read credentials", err)
	}
	if secret == "" {
		return time.Time{}, NewError(KindConfig, "no password or token stored for "+cfg.Username())
	}
	if e.factory == nil {
		return time.Time{}, NewError(KindConfig, "no backend available for mode "+string(cfg.Mode))
	}

	backend, err := e.factory(Settings{
		Config:        cfg,
		Secret:        secret,
		OpTimeout:     e.opTimeout,
		Logger:        e.logger,
		RetryAttempts: e.retryAttempts,
		RetryDelay:    e.retryDelay,
	})
	if err != nil {
		return time.Time{}, Wrap(KindConfig, "failed to create backend", err)
	}

	if qr, ok := backend.(QuotaReporter); ok {
		usage, err := bounded(ctx, e.opTimeout, qr.Usage)
		if err != nil {
			return time.Time{}, classify("failed to read storage usage", err)
		}
		if err := checkQuota(e.quotas, usage); err != nil {
			return time.Time{}, err
		}
	}

	if dir == Auto {
		remote, err := bounded(ctx, e.opTimeout, backend.RemoteTime)
		if err != nil {
			return time.Time{}, classify("failed to read remote sync time", err)
		}
		dir = Push
		if remote.After(cfg.LastSync()) {
			dir = Pull
		}
	}

	e.logger.Info("Sync started",
		docstow.Field{Key: "backend", Value: backend.Name()},
		docstow.Field{Key: "direction", Value: dir.String()})

	if dir == Pull {
		return e.pull(ctx, backend)
	}
	return e.push(ctx, backend)
}

func (e *Engine) push(ctx context.Context, backend Backend) (time.Time, error) {
	snap, err := TakeSnapshot(e.store.Root(), e.now().UTC())
	if err != nil {
		return time.Time{}, Wrap(KindIO, "failed to scan local data", err)
	}
	if err := backend.Push(ctx, snap); err != nil {
		return time.Time{}, classify("push failed", err)
	}
	return snap.Time, nil
}

// pull downloads into a staging directory first, so local data is only
// touched once the whole remote snapshot is available.
func (e *Engine) pull(ctx context.Context, backend Backend) (time.Time, error) {
	root := e.store.Root()
	staging := filepath.Join(root, StagingDirName)
	if err := fsutil.RemoveAll(staging); err != nil {
		return time.Time{}, Wrap(KindIO, "failed to clear staging area", err)
	}
	if err := fsutil.EnsureDir(staging, 0755); err != nil {
		return time.Time{}, Wrap(KindIO, "failed to create staging area", err)
	}
	defer fsutil.RemoveAll(staging)

	at, err := backend.Pull(ctx, staging)
	if err != nil {
		return time.Time{}, classify("pull failed", err)
	}
	if at.IsZero() {
		return time.Time{}, NewError(KindConflict, "remote holds no snapshot to pull")
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, classify("pull interrupted", err)
	}

	if err := applyStaging(root, staging); err != nil {
		return time.Time{}, Wrap(KindIO, "failed to replace local data", err)
	}
	if err := e.store.InvalidateAll(context.WithoutCancel(ctx)); err != nil {
		return time.Time{}, Wrap(KindIO, "failed to refresh cache", err)
	}
	if e.afterPull != nil {
		if err := e.afterPull(ctx); err != nil {
			return time.Time{}, Wrap(KindIO, "post-pull hook failed", err)
		}
	}
	return at, nil
}

// transition records and announces a state change. Failing to persist the
// state does not change the outcome of the run.
func (e *Engine) transition(ctx context.Context, state State, message string, lastSync time.Time) {
	now := e.now().UTC()

	e.mu.Lock()
	e.status.State = state
	e.status.Message = message
	e.status.UpdatedAt = now
	if !lastSync.IsZero() {
		e.status.LastSync = lastSync
	}
	status := e.status
	e.mu.Unlock()

	record := map[string]interface{}{
		"state":     string(state),
		"message":   message,
		"updatedAt": now.Format(time.RFC3339Nano),
	}
	if err := e.config.Set(ctx, collection.SyncNamespace, docstow.P("status"), record); err != nil {
		e.logger.Warn("Failed to persist sync status", docstow.Field{Key: "error", Value: err})
	}
	if !lastSync.IsZero() {
		err := e.config.Set(ctx, collection.SyncNamespace, docstow.P("lastSyncTime"), lastSync.UTC().Format(time.RFC3339Nano))
		if err != nil {
			e.logger.Warn("Failed to persist last sync time", docstow.Field{Key: "error", Value: err})
		}
	}

	if e.notifier == nil {
		return
	}
	switch state {
	case StateSyncing:
		e.notifier.Notify(EventSyncing, status)
	case StateSuccess:
		e.notifier.Notify(EventSynced, status)
	case StateError:
		e.notifier.Notify(EventError, status)
	}
}

func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

// Package orchestrator drives generation tasks from submission to materialized
// items. Each connected account gets a Session with its own reconciliation loop;
// poll results and push callbacks for a task meet in one guarded transition.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/cache"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/notify"
)

// Notifier receives user-visible events. Calls are made outside session locks.
type Notifier interface {
	Notify(user string, n model.Notification)
	TaskUpdated(user string, task model.GenerationTask)
}

// ArtifactRetrier schedules a background re-upload for an item stored under a
// placeholder address.
type ArtifactRetrier interface {
	EnqueueArtifactUpload(ctx context.Context, user string, meta client.ArtifactMetadata) error
}

// Config holds the timing knobs of the reconciliation machinery.
type Config struct {
	PollInterval          time.Duration
	PollTimeout           time.Duration
	MaxBackoff            time.Duration
	LedgerRefreshInterval time.Duration
	UploadTimeout         time.Duration
	ReceiptTimeout        time.Duration
}

// ConfigFrom assembles Config from the service configuration.
func ConfigFrom(oc config.OrchestratorConfig, lc config.LedgerConfig) Config {
	return Config{
		PollInterval:          oc.PollInterval,
		PollTimeout:           oc.PollTimeout,
		MaxBackoff:            oc.MaxBackoff,
		LedgerRefreshInterval: oc.LedgerRefreshInterval,
		UploadTimeout:         oc.UploadTimeout,
		ReceiptTimeout:        lc.ReceiptTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 20 * time.Second
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = 2 * time.Minute
		if c.MaxBackoff < c.PollInterval {
			c.MaxBackoff = c.PollInterval
		}
	}
	if c.LedgerRefreshInterval <= 0 {
		c.LedgerRefreshInterval = 30 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 30 * time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 3 * time.Minute
	}
	return c
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Generator client.MusicGenerator
	Ledger    client.Ledger
	Artifacts client.ArtifactUploader
	Cache     *cache.Store
	Dedup     *notify.Deduper
	Notifier  Notifier        // optional
	Retrier   ArtifactRetrier // optional
	Logger    *zerolog.Logger
}

// Orchestrator owns the sessions of all connected accounts.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	log      *zerolog.Logger
	validate *validator.Validate
	now      func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*Session
	taskIndex map[string]string // task id -> account key
	closed    bool
}

// New creates an orchestrator. Generator, Ledger and Cache are required.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Dedup == nil {
		deps.Dedup = notify.NewDeduper()
	}
	if deps.Artifacts == nil {
		deps.Artifacts = client.NewArtifactStore(nil, deps.Logger)
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		log:       logging.Component(deps.Logger, "orchestrator"),
		validate:  validator.New(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
		taskIndex: make(map[string]string),
	}
}

// AccountKey normalizes a user identifier. Wallet addresses compare case-insensitively.
func AccountKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// Connect starts (or returns) the session for user: hydrates items from the
// cache and launches its reconciliation loop.
func (o *Orchestrator) Connect(ctx context.Context, user string) (*Session, error) {
	key := AccountKey(user)
	if key == "" {
		return nil, fmt.Errorf("%w: empty account", model.ErrInvalidRequest)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: orchestrator shut down", model.ErrNotConnected)
	}
	if s, ok := o.sessions[key]; ok {
		o.mu.Unlock()
		return s, nil
	}
	s := newSession(o, key)
	o.sessions[key] = s
	o.mu.Unlock()

	s.hydrate(ctx)
	s.start()
	metrics.SessionOpened()
	o.log.Info().Str("user", key).Int("cached_items", len(s.Items())).Msg("session connected")
	return s, nil
}

// Disconnect stops user's session and drops its in-memory state. The cache is untouched.
func (o *Orchestrator) Disconnect(user string) {
	key := AccountKey(user)

	o.mu.Lock()
	s, ok := o.sessions[key]
	if ok {
		delete(o.sessions, key)
		for taskID, owner := range o.taskIndex {
			if owner == key {
				delete(o.taskIndex, taskID)
			}
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	taskIDs := s.stop()
	o.deps.Dedup.Forget(taskIDs...)
	metrics.SessionClosed()
	o.log.Info().Str("user", key).Int("tasks", len(taskIDs)).Msg("session disconnected")
}

// SwitchAccount disconnects from and connects to. Nothing is carried across.
func (o *Orchestrator) SwitchAccount(ctx context.Context, from, to string) (*Session, error) {
	if from != "" && AccountKey(from) != AccountKey(to) {
		o.Disconnect(from)
	}
	return o.Connect(ctx, to)
}

// Session returns the active session for user.
func (o *Orchestrator) Session(user string) (*Session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[AccountKey(user)]
	if !ok {
		return nil, model.ErrNotConnected
	}
	return s, nil
}

// AttachArtifact records a stored address on an item of user's active session.
func (o *Orchestrator) AttachArtifact(ctx context.Context, user, itemID, address string) error {
	s, err := o.Session(user)
	if err != nil {
		return err
	}
	return s.AttachArtifact(ctx, itemID, address)
}

// HandleCallback routes a normalized push callback to the session owning the task.
// Callbacks for tasks no connected session tracks are dropped.
func (o *Orchestrator) HandleCallback(ctx context.Context, result *client.StatusResult) error {
	o.mu.RLock()
	owner, ok := o.taskIndex[result.TaskID]
	var s *Session
	if ok {
		s = o.sessions[owner]
	}
	o.mu.RUnlock()

	if s == nil {
		o.log.Info().Str("task_id", result.TaskID).Str("status", string(result.Status)).Msg("callback for untracked task dropped")
		return fmt.Errorf("%w: %s", model.ErrTaskNotFound, result.TaskID)
	}
	return s.applyStatus(ctx, result, model.SourceCallback)
}

// Shutdown stops every session.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	users := make([]string, 0, len(o.sessions))
	for key := range o.sessions {
		users = append(users, key)
	}
	o.mu.Unlock()

	for _, u := range users {
		o.Disconnect(u)
	}
	o.deps.Dedup.Clear()
}

// ActiveSessions reports the number of connected accounts.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

func (o *Orchestrator) indexTask(taskID, key string) {
	o.mu.Lock()
	if _, ok := o.sessions[key]; ok {
		o.taskIndex[taskID] = key
	}
	o.mu.Unlock()
}

func (o *Orchestrator) unindexTask(taskID string) {
	o.mu.Lock()
	delete(o.taskIndex, taskID)
	o.mu.Unlock()
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
)

// Session is the orchestrator state of one connected account.
type Session struct {
	orch *Orchestrator
	cfg  Config
	user string
	log  *zerolog.Logger

	mu              sync.Mutex
	tasks           map[string]*model.GenerationTask
	items           map[string]*model.GeneratedItem // by ItemID
	resolved        map[string]struct{}             // tasks whose items are materialized
	local           map[string]struct{}             // confirmed here, not yet listed by the ledger
	dismissed       map[string]struct{}             // cleared by the user
	inflight        map[string]struct{}
	ledgerAll       map[string]struct{}
	ledgerCompleted map[string]struct{}
	ledgerLoaded    bool
	cacheWarned     bool
	closed          bool

	persistMu  sync.Mutex
	refreshing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	wg     sync.WaitGroup
}

func newSession(o *Orchestrator, key string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	l := o.log.With().Str("user", key).Logger()
	return &Session{
		orch:            o,
		cfg:             o.cfg,
		user:            key,
		log:             &l,
		tasks:           make(map[string]*model.GenerationTask),
		items:           make(map[string]*model.GeneratedItem),
		resolved:        make(map[string]struct{}),
		local:           make(map[string]struct{}),
		dismissed:       make(map[string]struct{}),
		inflight:        make(map[string]struct{}),
		ledgerAll:       make(map[string]struct{}),
		ledgerCompleted: make(map[string]struct{}),
		ctx:             ctx,
		cancel:          cancel,
		kick:            make(chan struct{}, 1),
	}
}

// User returns the normalized account this session belongs to.
func (s *Session) User() string { return s.user }

// hydrate seeds the session from a fresh cache entry.
func (s *Session) hydrate(ctx context.Context) {
	items, ok, err := s.orch.deps.Cache.Load(ctx, s.user)
	if err != nil {
		s.cacheFailed(err)
		return
	}
	if !ok {
		return
	}

	var taskIDs []string
	s.mu.Lock()
	for i := range items {
		it := items[i]
		s.items[it.ItemID] = &it
		s.resolved[it.TaskID] = struct{}{}
		if _, exists := s.tasks[it.TaskID]; exists {
			continue
		}
		completedAt := it.CreatedAt
		s.tasks[it.TaskID] = &model.GenerationTask{
			TaskID:        it.TaskID,
			UserID:        s.user,
			ChainStatus:   model.ChainStatusConfirmed,
			ServiceStatus: model.ServiceStatusSuccess,
			State:         model.TaskStateCompleted,
			CreatedAt:     it.CreatedAt,
			CompletedAt:   &completedAt,
		}
		taskIDs = append(taskIDs, it.TaskID)
	}
	s.mu.Unlock()

	for _, id := range taskIDs {
		s.orch.indexTask(id, s.user)
	}
	s.log.Debug().Int("items", len(items)).Int("tasks", len(taskIDs)).Msg("hydrated from cache")
}

// Submit obtains a task id from the generation service and pays for it on the
// ledger. The ledger transaction is broadcast at most once per call.
func (s *Session) Submit(ctx context.Context, params *model.RequestParams) (*model.SubmitResponse, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: missing parameters", model.ErrInvalidRequest)
	}
	if err := s.orch.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if s.isClosed() {
		return nil, model.ErrNotConnected
	}
	p := *params

	fee, err := s.orch.deps.Ledger.GetGenerationFee(ctx, p.Mode)
	if err != nil {
		metrics.IncSubmission("chain_unavailable")
		if !errors.Is(err, model.ErrChainUnavailable) {
			err = fmt.Errorf("%w: fee lookup: %v", model.ErrChainUnavailable, err)
		}
		return nil, err
	}

	resp, err := s.orch.deps.Generator.GenerateMusic(ctx, client.NewGenerateMusicRequest(&p))
	if err != nil {
		err = fmt.Errorf("%w: %v", model.ErrGenerationService, err)
		s.recordRejected(&p, err)
		metrics.IncSubmission("service_error")
		return nil, err
	}

	now := s.orch.now()
	task := &model.GenerationTask{
		TaskID:        resp.TaskID,
		UserID:        s.user,
		Params:        &p,
		ChainStatus:   model.ChainStatusUnsent,
		ServiceStatus: model.ServiceStatusUnknown,
		State:         model.TaskStateSubmitting,
		CreatedAt:     now,
	}

	s.mu.Lock()
	if _, dup := s.tasks[task.TaskID]; dup {
		s.mu.Unlock()
		metrics.IncSubmission("duplicate_task")
		return nil, fmt.Errorf("%w: task id %s reused by generation service", model.ErrGenerationService, task.TaskID)
	}
	s.tasks[task.TaskID] = task
	s.mu.Unlock()
	s.orch.indexTask(task.TaskID, s.user)

	log := s.log.With().Str("task_id", task.TaskID).Logger()
	log.Info().Str("mode", string(p.Mode)).Str("fee", fee).Msg("generation accepted, broadcasting fee transaction")

	// The broadcast must not be abandoned halfway because the caller went away.
	txHash, err := s.orch.deps.Ledger.BroadcastGenerationRequest(context.WithoutCancel(ctx), s.user, task.TaskID, &p, fee)
	if err != nil {
		s.fail(task.TaskID, err, model.ChainStatusFailed)
		metrics.IncSubmission(string(model.FailureReasonFor(err)))
		return nil, err
	}

	s.mu.Lock()
	task.TransactionHash = txHash
	task.ChainStatus = model.ChainStatusBroadcast
	if task.State == model.TaskStateSubmitting {
		task.State = model.TaskStateAwaitingChainConfirmation
	}
	snap := task.Clone()
	s.mu.Unlock()

	s.emitTask(snap)
	metrics.IncSubmission("broadcast")
	log.Info().Str("tx", txHash).Msg("fee transaction broadcast")

	if !s.spawn(func() { s.awaitReceipt(task.TaskID, txHash) }) {
		log.Warn().Msg("session closed before receipt wait started")
	}

	return &model.SubmitResponse{
		TaskID:          snap.TaskID,
		TransactionHash: txHash,
		State:           snap.State,
		ChainStatus:     snap.ChainStatus,
		Fee:             fee,
		CreatedAt:       snap.CreatedAt,
	}, nil
}

// recordRejected keeps a failed record of a request the service never accepted.
func (s *Session) recordRejected(p *model.RequestParams, cause error) {
	task := &model.GenerationTask{
		TaskID:        "local-" + uuid.NewString(),
		UserID:        s.user,
		Params:        p,
		ChainStatus:   model.ChainStatusUnsent,
		ServiceStatus: model.ServiceStatusUnknown,
		State:         model.TaskStateSubmitting,
		CreatedAt:     s.orch.now(),
	}
	s.mu.Lock()
	s.tasks[task.TaskID] = task
	s.mu.Unlock()
	s.fail(task.TaskID, cause, "")
}

func (s *Session) awaitReceipt(taskID, txHash string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := s.orch.deps.Ledger.WaitForReceipt(ctx, txHash)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("task_id", taskID).Str("tx", txHash).
			Msg("receipt not observed in time, leaving task to the ledger sweep")
		return
	}

	if receipt.Status == client.ReceiptReverted {
		s.fail(taskID, fmt.Errorf("%w: %s", model.ErrTransactionReverted, txHash), model.ChainStatusFailed)
		return
	}
	s.confirm(taskID)
}

// confirm moves a task to AwaitingServiceCompletion and tracks it locally until
// the ledger lists it.
func (s *Session) confirm(taskID string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok || t.State != model.TaskStateAwaitingChainConfirmation {
		s.mu.Unlock()
		return
	}
	t.ChainStatus = model.ChainStatusConfirmed
	t.State = model.TaskStateAwaitingServiceCompletion
	t.NextPollAt = s.orch.now()
	if _, listed := s.ledgerAll[taskID]; !listed {
		s.local[taskID] = struct{}{}
	}
	snap := t.Clone()
	s.mu.Unlock()

	s.log.Info().Str("task_id", taskID).Msg("fee transaction confirmed")
	s.emitTask(snap)
	s.triggerPoll()
}

// applyStatus is where poll results and callbacks land.
func (s *Session) applyStatus(ctx context.Context, res *client.StatusResult, source model.CompletionSource) error {
	now := s.orch.now()

	s.mu.Lock()
	t, ok := s.tasks[res.TaskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrTaskNotFound, res.TaskID)
	}
	if t.State.IsTerminal() {
		s.mu.Unlock()
		if res.Status == model.ServiceStatusSuccess {
			metrics.IncDuplicateSignal(string(source))
		}
		return nil
	}
	t.LastCheckedAt = &now
	if source == model.SourcePoll {
		t.PollFailures = 0
		t.NextPollAt = now.Add(s.cfg.PollInterval)
	}
	if res.Status != model.ServiceStatusUnknown {
		t.ServiceStatus = res.Status
	}
	state := t.State
	s.mu.Unlock()

	if state != model.TaskStateAwaitingServiceCompletion {
		// Acted on by the poll that follows chain confirmation.
		s.log.Debug().Str("task_id", res.TaskID).Str("state", string(state)).Str("status", string(res.Status)).
			Msg("service signal ahead of chain confirmation")
		return nil
	}

	switch {
	case res.Status == model.ServiceStatusSuccess && len(res.Items) == 0:
		s.emptyResult(res.TaskID, source)
	case res.Status == model.ServiceStatusSuccess:
		_, err := s.complete(ctx, res.TaskID, res.Items, source, false)
		return err
	case res.Status.IsFailure():
		msg := res.ErrorMessage
		if msg == "" {
			msg = res.RawStatus
		}
		s.fail(res.TaskID, fmt.Errorf("%w: %s", model.ErrServiceReportedFailure, msg), "")
	}
	return nil
}

// complete is the single guarded transition into Completed. It reports whether
// this call won; later signals for the same task are dropped without side effects.
func (s *Session) complete(ctx context.Context, taskID string, results []client.ItemResult, source model.CompletionSource, manual bool) (bool, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	if _, done := s.resolved[taskID]; done || t.State.IsTerminal() {
		s.mu.Unlock()
		metrics.IncDuplicateSignal(string(source))
		s.log.Debug().Str("task_id", taskID).Str("source", string(source)).Msg("duplicate completion signal dropped")
		return false, nil
	}
	switch t.State {
	case model.TaskStateAwaitingServiceCompletion:
	case model.TaskStateAwaitingChainConfirmation:
		if !manual {
			s.mu.Unlock()
			return false, fmt.Errorf("%w: %s is %s", model.ErrInvalidTransition, taskID, t.State)
		}
	default:
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s is %s", model.ErrInvalidTransition, taskID, t.State)
	}

	now := s.orch.now()
	created := s.materializeLocked(t, results, now)
	t.State = model.TaskStateCompleted
	if len(results) > 0 {
		t.ServiceStatus = model.ServiceStatusSuccess
	}
	t.CompletedAt = &now
	t.ManualOverride = manual
	s.resolved[taskID] = struct{}{}
	if _, listed := s.ledgerAll[taskID]; !listed {
		s.local[taskID] = struct{}{}
	}
	snap := t.Clone()
	show := s.orch.deps.Dedup.ShouldShow(taskID, model.NotificationCompletion)
	s.mu.Unlock()

	metrics.IncCompletion(string(source))
	ev := s.log.Info()
	if manual {
		ev = s.log.Warn()
	}
	ev.Str("task_id", taskID).Str("source", string(source)).Int("items", len(created)).Bool("manual", manual).Msg("task completed")

	s.emitTask(snap)
	if show {
		s.emit(model.Notification{
			Kind:    model.NotificationCompletion,
			TaskID:  taskID,
			Message: fmt.Sprintf("Generation complete: %d item(s) ready", len(created)),
			Items:   created,
			At:      now,
		})
	}

	if len(created) > 0 {
		s.persist()
		s.uploadArtifacts(created)
	}
	return true, nil
}

// materializeLocked turns service results into items. Item ids already present
// are skipped; versions number the task's items in materialization order.
func (s *Session) materializeLocked(t *model.GenerationTask, results []client.ItemResult, now time.Time) []model.GeneratedItem {
	n := 0
	for _, it := range s.items {
		if it.TaskID == t.TaskID {
			n++
		}
	}

	var created []model.GeneratedItem
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		if _, exists := s.items[r.ID]; exists {
			continue
		}
		title := r.Title
		if title == "" && t.Params != nil {
			title = t.Params.Title
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		it := &model.GeneratedItem{
			ItemID:          r.ID,
			TaskID:          t.TaskID,
			Version:         model.VersionLabel(n),
			Title:           title,
			MediaURL:        r.AudioURL,
			ImageURL:        r.ImageURL,
			DurationSeconds: r.Duration,
			Tags:            model.NormalizeTags(r.Tags...),
			CreatedAt:       createdAt,
		}
		s.items[it.ItemID] = it
		created = append(created, *it)
		n++
	}
	return created
}

func (s *Session) emptyResult(taskID string, source model.CompletionSource) {
	show := s.orch.deps.Dedup.ShouldShow(taskID, model.NotificationEmptyResult)
	s.log.Warn().Err(model.ErrEmptyResult).Str("task_id", taskID).Str("source", string(source)).
		Msg("success reported without items, still waiting")
	if show {
		s.emit(model.Notification{
			Kind:    model.NotificationEmptyResult,
			TaskID:  taskID,
			Message: "Generation reported finished but returned no tracks yet",
			At:      s.orch.now(),
		})
	}
}

// fail moves a non-terminal task to Failed. chain, when set, overrides the chain status.
func (s *Session) fail(taskID string, cause error, chain model.ChainStatus) {
	reason := model.FailureReasonFor(cause)

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok || t.State.IsTerminal() {
		s.mu.Unlock()
		return
	}
	t.State = model.TaskStateFailed
	t.FailureReason = reason
	t.FailureMessage = cause.Error()
	if chain != "" {
		t.ChainStatus = chain
	}
	delete(s.local, taskID)
	snap := t.Clone()
	show := s.orch.deps.Dedup.ShouldShow(taskID, model.NotificationFailure)
	s.mu.Unlock()

	metrics.IncTaskFailed(string(reason))
	s.log.Warn().Err(cause).Str("task_id", taskID).Str("reason", string(reason)).Msg("task failed")

	s.emitTask(snap)
	if show {
		s.emit(model.Notification{
			Kind:    model.NotificationFailure,
			TaskID:  taskID,
			Message: cause.Error(),
			Reason:  reason,
			At:      s.orch.now(),
		})
	}
}

// uploadArtifacts stores each item's metadata. A failed upload leaves a
// placeholder address and schedules a retry when a retrier is configured.
func (s *Session) uploadArtifacts(items []model.GeneratedItem) {
	for i := range items {
		it := items[i]
		meta := client.MetadataFor(&it)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.UploadTimeout)
		res := s.orch.deps.Artifacts.Upload(ctx, meta)
		cancel()

		if res.Degraded {
			s.log.Error().Err(res.Err).Str("task_id", it.TaskID).Str("item_id", it.ItemID).
				Str("placeholder", res.Address).Msg("storage upload failed")
			if r := s.orch.deps.Retrier; r != nil && s.ctx.Err() == nil {
				if err := r.EnqueueArtifactUpload(s.ctx, s.user, meta); err != nil {
					s.log.Warn().Err(err).Str("item_id", it.ItemID).Msg("artifact retry not scheduled")
				}
			}
		}
		s.setArtifact(it.ItemID, res.Address, res.Degraded)
	}
	s.persist()
}

func (s *Session) setArtifact(itemID, address string, degraded bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return false
	}
	it.ArtifactAddress = address
	it.ArtifactDegraded = degraded
	return true
}

// AttachArtifact records the storage address of an item and rewrites the cache.
func (s *Session) AttachArtifact(ctx context.Context, itemID, address string) error {
	if !s.setArtifact(itemID, address, client.IsPlaceholderAddress(address)) {
		return fmt.Errorf("%w: item %s", model.ErrTaskNotFound, itemID)
	}
	s.persist()
	return nil
}

// ForceComplete is the manual override for a task the user knows is done. It
// queries the service once and completes with whatever items come back.
func (s *Session) ForceComplete(ctx context.Context, taskID string) (model.GenerationTask, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return model.GenerationTask{}, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	state := t.State
	snap := t.Clone()
	s.mu.Unlock()

	if state.IsTerminal() {
		return snap, nil
	}
	if state != model.TaskStateAwaitingChainConfirmation && state != model.TaskStateAwaitingServiceCompletion {
		return snap, fmt.Errorf("%w: %s is %s", model.ErrInvalidTransition, taskID, state)
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	res, err := s.orch.deps.Generator.GetMusicStatus(pctx, taskID)
	cancel()

	var items []client.ItemResult
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("status query failed during force-complete")
	} else {
		items = res.Items
	}

	if _, err := s.complete(ctx, taskID, items, model.SourceManual, true); err != nil {
		return snap, err
	}
	return s.Task(taskID)
}

// ForceRefresh re-reads the ledger, runs the membership sweep and polls every
// pending task now.
func (s *Session) ForceRefresh(ctx context.Context) error {
	if s.isClosed() {
		return model.ErrNotConnected
	}
	if err := s.refreshLedger(ctx); err != nil {
		return err
	}

	now := s.orch.now()
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.State == model.TaskStateAwaitingServiceCompletion {
			t.NextPollAt = now
		}
	}
	s.mu.Unlock()
	s.triggerPoll()
	return nil
}

// Clear drops every item and terminal task and deletes the cache entry. Cleared
// tasks are not brought back by later reconciliation in this session.
func (s *Session) Clear(ctx context.Context) int {
	var dropped []string

	s.mu.Lock()
	for id, t := range s.tasks {
		if _, done := s.resolved[id]; done || t.State.IsTerminal() {
			delete(s.tasks, id)
			s.dismissed[id] = struct{}{}
			dropped = append(dropped, id)
		}
	}
	n := len(s.items)
	var addresses []string
	for _, it := range s.items {
		if it.ArtifactAddress != "" && !it.ArtifactDegraded {
			addresses = append(addresses, it.ArtifactAddress)
		}
	}
	s.items = make(map[string]*model.GeneratedItem)
	s.mu.Unlock()

	for _, id := range dropped {
		s.orch.unindexTask(id)
	}
	s.removeArtifacts(ctx, addresses)

	s.persistMu.Lock()
	if err := s.orch.deps.Cache.Delete(ctx, s.user); err != nil {
		s.cacheFailed(err)
	}
	s.persistMu.Unlock()

	s.log.Info().Int("items", n).Int("tasks", len(dropped)).Msg("generations cleared")
	return n
}

// removeArtifacts deletes stored documents of cleared items. Failures leave
// orphaned objects behind and are only logged.
func (s *Session) removeArtifacts(ctx context.Context, addresses []string) {
	remover, ok := s.orch.deps.Artifacts.(client.ArtifactRemover)
	if !ok {
		return
	}
	for _, addr := range addresses {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
		err := remover.Remove(rctx, addr)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("address", addr).Msg("artifact removal failed")
		}
	}
}

// Task returns a snapshot of one task.
func (s *Session) Task(taskID string) (model.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return model.GenerationTask{}, fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
	}
	return t.Clone(), nil
}

// Tasks returns snapshots of all tasks, newest first.
func (s *Session) Tasks() []model.GenerationTask {
	s.mu.Lock()
	out := make([]model.GenerationTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Items returns the materialized items, newest first and by version within a task.
func (s *Session) Items() []model.GeneratedItem {
	s.mu.Lock()
	out := s.itemsLocked()
	s.mu.Unlock()
	return out
}

func (s *Session) itemsLocked() []model.GeneratedItem {
	out := make([]model.GeneratedItem, 0, len(s.items))
	for _, it := range s.items {
		c := *it
		c.Tags = append([]string(nil), it.Tags...)
		out = append(out, c)
	}
	// Tasks are ordered by their first item so a task's items stay together.
	taskTime := make(map[string]time.Time)
	for _, it := range out {
		if first, ok := taskTime[it.TaskID]; !ok || it.CreatedAt.Before(first) {
			taskTime[it.TaskID] = it.CreatedAt
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TaskID != b.TaskID {
			if ta, tb := taskTime[a.TaskID], taskTime[b.TaskID]; !ta.Equal(tb) {
				return ta.After(tb)
			}
			return a.TaskID < b.TaskID
		}
		if va, vb := model.VersionOrdinal(a.Version), model.VersionOrdinal(b.Version); va != vb {
			return va < vb
		}
		return a.ItemID < b.ItemID
	})
	return out
}

// PendingTaskIDs returns the derived pending set.
func (s *Session) PendingTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pending(keys(s.ledgerAll), keys(s.ledgerCompleted), keys(s.local))
}

// Synced reports whether a ledger read has succeeded in this session.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerLoaded
}

// persist writes the current items to the cache. Writes are serialized so a
// newer snapshot is never overwritten by an older one.
func (s *Session) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	items := s.itemsLocked()
	closed := s.closed
	s.mu.Unlock()
	if closed && len(items) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.UploadTimeout)
	defer cancel()

	if len(items) == 0 {
		if err := s.orch.deps.Cache.Delete(ctx, s.user); err != nil {
			s.cacheFailed(err)
		}
		return
	}
	if _, err := s.orch.deps.Cache.Save(ctx, s.user, items); err != nil {
		s.cacheFailed(err)
	}
}

// cacheFailed logs the first cache failure of the session; later ones are debug only.
func (s *Session) cacheFailed(err error) {
	s.mu.Lock()
	warned := s.cacheWarned
	s.cacheWarned = true
	s.mu.Unlock()

	if warned {
		s.log.Debug().Err(err).Msg("item cache still unavailable")
		return
	}
	s.log.Warn().Err(err).Msg("item cache unavailable, continuing in memory")
}

func (s *Session) emit(n model.Notification) {
	if nt := s.orch.deps.Notifier; nt != nil {
		nt.Notify(s.user, n)
	}
}

func (s *Session) emitTask(t model.GenerationTask) {
	if nt := s.orch.deps.Notifier; nt != nil {
		nt.TaskUpdated(s.user, t)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// spawn runs fn on a goroutine tracked by the session. It returns false once
// the session is stopping.
func (s *Session) spawn(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Session) start() {
	s.wg.Add(1)
	go s.run()
}

// stop cancels all session work, waits for it and drops in-memory state. It
// returns the ids of the tasks the session knew.
func (s *Session) stop() []string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.tasks = make(map[string]*model.GenerationTask)
	s.items = make(map[string]*model.GeneratedItem)
	s.resolved = make(map[string]struct{})
	s.local = make(map[string]struct{})
	s.inflight = make(map[string]struct{})
	s.ledgerAll = make(map[string]struct{})
	s.ledgerCompleted = make(map[string]struct{})
	s.ledgerLoaded = false
	return ids
}

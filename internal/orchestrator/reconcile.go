package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
)

// Backoff returns the delay before the next poll after failures consecutive
// transport errors: interval·2^failures, capped at ceiling.
func Backoff(interval, ceiling time.Duration, failures int) time.Duration {
	d := interval
	for i := 0; i < failures && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// run is the session's reconciliation loop.
func (s *Session) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.refreshAsync()
	lastRefresh := time.Now()
	s.dispatch()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
		case <-ticker.C:
			if time.Since(lastRefresh) >= s.cfg.LedgerRefreshInterval {
				s.refreshAsync()
				lastRefresh = time.Now()
			}
		}
		s.dispatch()
	}
}

func (s *Session) triggerPoll() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// dispatch starts a poll for every due task. Each poll runs on its own goroutine.
func (s *Session) dispatch() {
	for _, id := range s.duePolls(s.orch.now()) {
		taskID := id
		if !s.spawn(func() { s.poll(taskID) }) {
			return
		}
	}
}

// duePolls computes the poll set and marks the returned tasks in flight. The
// set is the pending tasks plus ledger-completed tasks not yet materialized,
// restricted to tasks awaiting the service whose back-off has elapsed.
func (s *Session) duePolls(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	candidates := Pending(keys(s.ledgerAll), keys(s.ledgerCompleted), keys(s.local))
	for id := range s.ledgerCompleted {
		if _, done := s.resolved[id]; !done {
			candidates = append(candidates, id)
		}
	}

	var due []string
	seen := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, done := s.resolved[id]; done {
			continue
		}
		if _, gone := s.dismissed[id]; gone {
			continue
		}
		if _, busy := s.inflight[id]; busy {
			continue
		}
		t, ok := s.tasks[id]
		if !ok || t.State != model.TaskStateAwaitingServiceCompletion {
			continue
		}
		if now.Before(t.NextPollAt) {
			continue
		}
		s.inflight[id] = struct{}{}
		due = append(due, id)
	}
	return due
}

func (s *Session) poll(taskID string) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, taskID)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PollTimeout)
	res, err := s.orch.deps.Generator.GetMusicStatus(ctx, taskID)
	cancel()

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		metrics.IncPoll("transport_error")
		s.pollFailed(taskID, err)
		return
	}

	metrics.IncPoll(string(res.Status))
	res.TaskID = taskID
	if err := s.applyStatus(s.ctx, res, model.SourcePoll); err != nil {
		s.log.Debug().Err(err).Str("task_id", taskID).Msg("poll result not applied")
	}
}

// pollFailed backs a task off. Transport errors never fail a task.
func (s *Session) pollFailed(taskID string, cause error) {
	now := s.orch.now()

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok || t.State.IsTerminal() {
		s.mu.Unlock()
		return
	}
	t.PollFailures++
	delay := Backoff(s.cfg.PollInterval, s.cfg.MaxBackoff, t.PollFailures)
	t.NextPollAt = now.Add(delay)
	t.LastCheckedAt = &now
	failures := t.PollFailures
	s.mu.Unlock()

	s.log.Warn().Err(fmt.Errorf("%w: %v", model.ErrPollTransient, cause)).
		Str("task_id", taskID).Int("failures", failures).Dur("retry_in", delay).Msg("status poll failed")
}

func (s *Session) refreshAsync() {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	if !s.spawn(func() {
		defer s.refreshing.Store(false)
		_ = s.refreshLedger(s.ctx)
	}) {
		s.refreshing.Store(false)
	}
}

// refreshLedger reads both ledger lists and runs the membership sweep. A failed
// read leaves the previous view and the items untouched.
func (s *Session) refreshLedger(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	all, err := s.orch.deps.Ledger.GetAllTaskIDs(lctx, s.user)
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger task list unavailable, sweep skipped")
		return err
	}
	completed, err := s.orch.deps.Ledger.GetCompletedTaskIDs(lctx, s.user)
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger completed list unavailable, sweep skipped")
		return err
	}

	res := s.sweep(all, completed)
	for _, id := range res.reconstructed {
		s.orch.indexTask(id, s.user)
	}
	for _, id := range res.droppedTasks {
		s.orch.unindexTask(id)
	}
	if res.pruned > 0 {
		s.persist()
	}
	if res.changed() {
		s.log.Info().
			Int("pruned", res.pruned).
			Int("promoted", res.promoted).
			Int("reconstructed", len(res.reconstructed)).
			Int("newly_completed", res.newlyCompleted).
			Msg("ledger sweep applied")
	}
	if res.promoted > 0 || len(res.reconstructed) > 0 || res.newlyCompleted > 0 {
		s.triggerPoll()
	}
	return nil
}

type sweepResult struct {
	pruned         int
	promoted       int
	newlyCompleted int
	reconstructed  []string
	droppedTasks   []string
}

func (r sweepResult) changed() bool {
	return r.pruned > 0 || r.promoted > 0 || r.newlyCompleted > 0 || len(r.reconstructed) > 0
}

// sweep applies a fresh ledger view. Items whose task is in neither the ledger
// list nor the locally tracked set are pruned. Running it again with the same
// lists changes nothing.
func (s *Session) sweep(all, completed []string) sweepResult {
	now := s.orch.now()
	allSet := toSet(all)
	completedSet := toSet(completed)
	for id := range completedSet {
		allSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res sweepResult
	for id := range completedSet {
		_, seen := s.ledgerCompleted[id]
		_, done := s.resolved[id]
		_, gone := s.dismissed[id]
		if seen || done || gone {
			continue
		}
		res.newlyCompleted++
		if t, ok := s.tasks[id]; ok && t.State == model.TaskStateAwaitingServiceCompletion {
			t.NextPollAt = now
		}
	}

	s.ledgerAll = allSet
	s.ledgerCompleted = completedSet
	s.ledgerLoaded = true

	for id := range s.local {
		if _, listed := allSet[id]; listed {
			delete(s.local, id)
		}
	}

	prunedTasks := make(map[string]struct{})
	for itemID, it := range s.items {
		_, listed := allSet[it.TaskID]
		_, tracked := s.local[it.TaskID]
		if listed || tracked {
			continue
		}
		delete(s.items, itemID)
		prunedTasks[it.TaskID] = struct{}{}
		res.pruned++
	}
	for id := range prunedTasks {
		if t, ok := s.tasks[id]; ok && t.State == model.TaskStateCompleted {
			delete(s.tasks, id)
			delete(s.resolved, id)
			res.droppedTasks = append(res.droppedTasks, id)
		}
	}

	for id := range allSet {
		if _, gone := s.dismissed[id]; gone {
			continue
		}
		t, ok := s.tasks[id]
		if !ok {
			s.tasks[id] = &model.GenerationTask{
				TaskID:        id,
				UserID:        s.user,
				ChainStatus:   model.ChainStatusConfirmed,
				ServiceStatus: model.ServiceStatusUnknown,
				State:         model.TaskStateAwaitingServiceCompletion,
				CreatedAt:     now,
				NextPollAt:    now,
			}
			res.reconstructed = append(res.reconstructed, id)
			continue
		}
		if t.State == model.TaskStateAwaitingChainConfirmation {
			t.ChainStatus = model.ChainStatusConfirmed
			t.State = model.TaskStateAwaitingServiceCompletion
			t.NextPollAt = now
			res.promoted++
		}
	}
	return res
}

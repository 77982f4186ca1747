// Package notify holds the process-wide gate that keeps user-visible
// notifications to at most one per (task, kind).
package notify

import (
	"sync"
	"time"

	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
)

type key struct {
	taskID string
	kind   model.NotificationKind
}

// Deduper records which (task, kind) notifications have already been shown.
// The zero value is not usable; use NewDeduper.
type Deduper struct {
	mu    sync.Mutex
	shown map[key]time.Time
	now   func() time.Time
}

func NewDeduper() *Deduper {
	return &Deduper{
		shown: make(map[key]time.Time),
		now:   time.Now,
	}
}

// ShouldShow returns true exactly once per (taskID, kind) until the entry is
// cleared. Every caller that might surface the notification must ask first.
func (d *Deduper) ShouldShow(taskID string, kind model.NotificationKind) bool {
	k := key{taskID: taskID, kind: kind}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.shown[k]; ok {
		metrics.IncNotification(string(kind), "suppressed")
		return false
	}
	d.shown[k] = d.now()
	metrics.IncNotification(string(kind), "shown")
	return true
}

// ShownAt returns when the notification was let through, if it was.
func (d *Deduper) ShownAt(taskID string, kind model.NotificationKind) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.shown[key{taskID: taskID, kind: kind}]
	return at, ok
}

// Forget drops every record belonging to the given tasks. Used when an account
// disconnects so its tasks carry no state into the next session.
func (d *Deduper) Forget(taskIDs ...string) {
	if len(taskIDs) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		ids[id] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.shown {
		if _, ok := ids[k.taskID]; ok {
			delete(d.shown, k)
		}
	}
}

// Clear wipes the whole table.
func (d *Deduper) Clear() {
	d.mu.Lock()
	d.shown = make(map[key]time.Time)
	d.mu.Unlock()
}

// Len reports how many records are held.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown)
}

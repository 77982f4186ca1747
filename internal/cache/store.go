// Package cache persists the materialized list of generated items per user so a
// fresh session can render immediately. The ledger stays authoritative; this is
// a snapshot with a fixed time-to-live.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/makeasinger/orchestrator/internal/metrics"
	"github.com/makeasinger/orchestrator/internal/model"
)

const (
	DefaultNamespace = "generated-items"
	DefaultTTL       = 24 * time.Hour
)

// Entry is the persisted value for one user.
type Entry struct {
	UserIdentifier string                `json:"userIdentifier"`
	WrittenAt      time.Time             `json:"writtenAt"`
	Items          []model.GeneratedItem `json:"items"`
}

// Store reads and writes Entries keyed by (namespace, user).
type Store struct {
	backend   Backend
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewStore(backend Backend, namespace string, ttl time.Duration) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Key builds the storage key for a user. Wallet addresses are case-insensitive.
func (s *Store) Key(user string) string {
	return fmt.Sprintf("%s:%s", s.namespace, strings.ToLower(strings.TrimSpace(user)))
}

// Load returns the cached items for user. A missing, undecodable, foreign or
// stale entry yields (nil, false, nil); stale and undecodable entries are removed.
// Only backend failures return an error, wrapping model.ErrCacheUnavailable.
func (s *Store) Load(ctx context.Context, user string) ([]model.GeneratedItem, bool, error) {
	key := s.Key(user)

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.IncCacheOp("load", "miss")
			return nil, false, nil
		}
		metrics.IncCacheOp("load", "error")
		return nil, false, fmt.Errorf("%w: %v", model.ErrCacheUnavailable, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = s.backend.Del(ctx, key)
		metrics.IncCacheOp("load", "corrupt")
		return nil, false, nil
	}

	if !strings.EqualFold(entry.UserIdentifier, user) {
		metrics.IncCacheOp("load", "miss")
		return nil, false, nil
	}

	if s.now().Sub(entry.WrittenAt) > s.ttl {
		_ = s.backend.Del(ctx, key)
		metrics.IncCacheOp("load", "stale")
		return nil, false, nil
	}

	items := persistable(entry.Items)
	if len(items) == 0 {
		metrics.IncCacheOp("load", "miss")
		return nil, false, nil
	}

	metrics.IncCacheOp("load", "hit")
	return items, true, nil
}

// Save overwrites the user's entry with the fully formed subset of items.
// It returns false without writing when nothing qualifies.
func (s *Store) Save(ctx context.Context, user string, items []model.GeneratedItem) (bool, error) {
	keep := persistable(items)
	if len(keep) == 0 {
		return false, nil
	}

	entry := Entry{
		UserIdentifier: user,
		WrittenAt:      s.now(),
		Items:          keep,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.backend.Set(ctx, s.Key(user), data, s.ttl); err != nil {
		metrics.IncCacheOp("save", "error")
		return false, fmt.Errorf("%w: %v", model.ErrCacheUnavailable, err)
	}
	metrics.IncCacheOp("save", "ok")
	return true, nil
}

// UpdateItem applies fn to the cached item with itemID. The entry keeps its
// original write time, so the item does not outlive the snapshot it came from.
func (s *Store) UpdateItem(ctx context.Context, user, itemID string, fn func(*model.GeneratedItem)) (bool, error) {
	key := s.Key(user)

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", model.ErrCacheUnavailable, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || !strings.EqualFold(entry.UserIdentifier, user) {
		return false, nil
	}
	remaining := s.ttl - s.now().Sub(entry.WrittenAt)
	if remaining <= 0 {
		return false, nil
	}

	for i := range entry.Items {
		if entry.Items[i].ItemID != itemID {
			continue
		}
		fn(&entry.Items[i])
		data, err := json.Marshal(entry)
		if err != nil {
			return false, fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		if err := s.backend.Set(ctx, key, data, remaining); err != nil {
			metrics.IncCacheOp("update", "error")
			return false, fmt.Errorf("%w: %v", model.ErrCacheUnavailable, err)
		}
		metrics.IncCacheOp("update", "ok")
		return true, nil
	}
	return false, nil
}

// Delete removes the user's entry.
func (s *Store) Delete(ctx context.Context, user string) error {
	if err := s.backend.Del(ctx, s.Key(user)); err != nil {
		metrics.IncCacheOp("delete", "error")
		return fmt.Errorf("%w: %v", model.ErrCacheUnavailable, err)
	}
	metrics.IncCacheOp("delete", "ok")
	return nil
}

// persistable keeps fully formed items, first occurrence per ItemID.
func persistable(items []model.GeneratedItem) []model.GeneratedItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]model.GeneratedItem, 0, len(items))
	for _, it := range items {
		if !it.IsFullyFormed() {
			continue
		}
		if _, ok := seen[it.ItemID]; ok {
			continue
		}
		seen[it.ItemID] = struct{}{}
		out = append(out, it)
	}
	return out
}

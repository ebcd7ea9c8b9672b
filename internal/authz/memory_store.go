package authz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type overrideKey struct {
	userID     int64
	businessID int64
}

// MemoryStore is an in-process OverrideStore used by tests and single-node
// development setups. A single mutex serializes writers.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[overrideKey]*Override
	history   []HistoryEntry
	nextID    int64
	nextHist  int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: make(map[overrideKey]*Override)}
}

// ActiveOverride returns the active, unexpired override or nil.
func (s *MemoryStore) ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*Override, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideKey{userID, businessID}]
	if !ok || !o.ActiveAt(now) {
		return nil, nil
	}
	cp := copyOverride(*o)
	return &cp, nil
}

// UpsertOverride replaces the override for the key and appends history.
func (s *MemoryStore) UpsertOverride(ctx context.Context, p UpsertParams) (Override, HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return Override{}, HistoryEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := overrideKey{p.UserID, p.BusinessID}
	prevAdded, prevRemoved := PermissionMap{}, PermissionMap{}
	next := Override{
		UserID:     p.UserID,
		BusinessID: p.BusinessID,
		CreatedBy:  p.ActorID,
		CreatedAt:  p.Now,
	}
	if prev, ok := s.overrides[key]; ok {
		if prev.ActiveAt(p.Now) {
			prevAdded, prevRemoved = prev.Added.Clone(), prev.Removed.Clone()
		}
		next.ID = prev.ID
		next.CreatedBy = prev.CreatedBy
		next.CreatedAt = prev.CreatedAt
	} else {
		s.nextID++
		next.ID = s.nextID
	}
	next.Added = p.Added.Clone()
	next.Removed = p.Removed.Clone()
	next.Reason = p.Reason
	next.ExpiresAt = copyTime(p.ExpiresAt)
	next.IsActive = true
	next.UpdatedBy = p.ActorID
	next.UpdatedAt = p.Now

	s.nextHist++
	entry := HistoryEntry{
		ID:              s.nextHist,
		ActorID:         p.ActorID,
		UserID:          p.UserID,
		BusinessID:      p.BusinessID,
		ActionType:      p.ActionType,
		Added:           p.Added.Clone(),
		Removed:         p.Removed.Clone(),
		PreviousAdded:   prevAdded,
		PreviousRemoved: prevRemoved,
		Reason:          p.Reason,
		ExpiresAt:       copyTime(p.ExpiresAt),
		CreatedAt:       p.Now,
	}

	stored := next
	s.overrides[key] = &stored
	s.history = append(s.history, entry)
	return copyOverride(next), copyEntry(entry), nil
}

// QueryHistory returns matching entries, most recent first.
func (s *MemoryStore) QueryHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if MatchHistory(s.history[i], f) {
			out = append(out, copyEntry(s.history[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeactivateExpired flips IsActive on records whose expiry has passed.
func (s *MemoryStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.overrides {
		if o.IsActive && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			o.IsActive = false
			n++
		}
	}
	return n, nil
}

// MatchHistory reports whether entry satisfies filter. Text matches the
// reason case-insensitively.
func MatchHistory(e HistoryEntry, f HistoryFilter) bool {
	if f.UserID != 0 && e.UserID != f.UserID {
		return false
	}
	if f.ActorID != 0 && e.ActorID != f.ActorID {
		return false
	}
	if f.BusinessID != 0 && e.BusinessID != f.BusinessID {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		if !strings.Contains(strings.ToLower(e.Reason), strings.ToLower(text)) {
			return false
		}
	}
	return true
}

func copyOverride(o Override) Override {
	o.Added = o.Added.Clone()
	o.Removed = o.Removed.Clone()
	o.ExpiresAt = copyTime(o.ExpiresAt)
	return o
}

func copyEntry(e HistoryEntry) HistoryEntry {
	e.Added = e.Added.Clone()
	e.Removed = e.Removed.Clone()
	e.PreviousAdded = e.PreviousAdded.Clone()
	e.PreviousRemoved = e.PreviousRemoved.Clone()
	e.ExpiresAt = copyTime(e.ExpiresAt)
	return e
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

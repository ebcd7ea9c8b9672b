package authz

import (
	"context"
	"time"
)

// UpsertParams is a validated full-state replacement of one override.
type UpsertParams struct {
	UserID     int64
	BusinessID int64
	Added      PermissionMap
	Removed    PermissionMap
	Reason     string
	ExpiresAt  *time.Time
	ActorID    int64
	ActionType ActionType
	Now        time.Time
}

// HistoryFilter narrows a history query. Zero values mean "any".
type HistoryFilter struct {
	UserID     int64
	ActorID    int64
	BusinessID int64
	ActionType ActionType
	Text       string
	Limit      int
	Offset     int
}

// OverrideStore persists overrides and their history.
//
// UpsertOverride must serialize writers per (user, business), replace the
// active record wholesale, and append the history entry in the same atomic
// unit. When it cannot guarantee that, it returns ErrPartialWrite.
type OverrideStore interface {
	ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*Override, error)
	UpsertOverride(ctx context.Context, params UpsertParams) (Override, HistoryEntry, error)
	QueryHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// OverrideReader is the read side consumed by the resolver.
type OverrideReader interface {
	ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*Override, error)
}

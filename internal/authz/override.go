package authz

import "time"

// ActionType classifies an override change recorded in history.
type ActionType string

// History action types.
const (
	ActionTypeGrant  ActionType = "grant"
	ActionTypeRevoke ActionType = "revoke"
	ActionTypeMixed  ActionType = "mixed"
	ActionTypeReset  ActionType = "reset"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeGrant, ActionTypeRevoke, ActionTypeMixed, ActionTypeReset:
		return true
	}
	return false
}

// Override adds and removes individual grants for one user within one
// business, relative to the role baseline.
type Override struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	BusinessID int64         `json:"business_id"`
	Added      PermissionMap `json:"added"`
	Removed    PermissionMap `json:"removed"`
	Reason     string        `json:"reason"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	IsActive   bool          `json:"is_active"`
	CreatedBy  int64         `json:"created_by"`
	UpdatedBy  int64         `json:"updated_by"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ActiveAt reports whether the override applies at now. Expiry takes effect
// exactly at ExpiresAt.
func (o *Override) ActiveAt(now time.Time) bool {
	if o == nil || !o.IsActive {
		return false
	}
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// HistoryEntry is an immutable record of one override upsert.
type HistoryEntry struct {
	ID              int64         `json:"id"`
	ActorID         int64         `json:"actor_id"`
	UserID          int64         `json:"user_id"`
	BusinessID      int64         `json:"business_id"`
	ActionType      ActionType    `json:"action_type"`
	Added           PermissionMap `json:"added"`
	Removed         PermissionMap `json:"removed"`
	PreviousAdded   PermissionMap `json:"previous_added"`
	PreviousRemoved PermissionMap `json:"previous_removed"`
	Reason          string        `json:"reason"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Classify computes the history action type for a full-state replacement. An
// upsert that clears both maps is a reset whether or not a prior record existed.
func Classify(added, removed PermissionMap) ActionType {
	hasAdded, hasRemoved := !added.Empty(), !removed.Empty()
	switch {
	case hasAdded && hasRemoved:
		return ActionTypeMixed
	case hasAdded:
		return ActionTypeGrant
	case hasRemoved:
		return ActionTypeRevoke
	default:
		return ActionTypeReset
	}
}

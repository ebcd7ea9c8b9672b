package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConflictPolicy decides what happens when one upsert both grants and revokes
// the same pair.
type ConflictPolicy string

const (
	// ConflictAllow stores the pair in both maps; the resolver denies it.
	ConflictAllow ConflictPolicy = "allow"
	// ConflictReject fails the upsert with ErrValidation.
	ConflictReject ConflictPolicy = "reject"
)

// ParseConflictPolicy maps configuration text to a policy, defaulting to allow.
func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ConflictAllow:
		return ConflictAllow, nil
	case ConflictReject:
		return ConflictReject, nil
	}
	return "", fmt.Errorf("authz: unknown conflict policy %q", raw)
}

// UpsertInput is the caller-facing override write.
type UpsertInput struct {
	UserID     int64 `validate:"required,gt=0"`
	BusinessID int64 `validate:"required,gt=0"`
	ActorID    int64 `validate:"required,gt=0"`
	Added      PermissionMap
	Removed    PermissionMap
	Reason     string `validate:"required,max=500"`
	ExpiresAt  *time.Time
}

// ServiceConfig tunes the override service.
type ServiceConfig struct {
	ConflictPolicy ConflictPolicy
	Now            func() time.Time
}

// Service is the single write entry point for overrides.
type Service struct {
	store    OverrideStore
	logger   *slog.Logger
	validate *validator.Validate
	policy   ConflictPolicy
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(store OverrideStore, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	policy := cfg.ConflictPolicy
	if policy == "" {
		policy = ConflictAllow
	}
	return &Service{store: store, logger: logger, validate: validator.New(), policy: policy, now: now}
}

// UpsertOverride validates input, replaces the override for (user, business)
// wholesale and records exactly one history entry.
func (s *Service) UpsertOverride(ctx context.Context, in UpsertInput) (Override, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate.Struct(in); err != nil {
		return Override{}, validationError(err)
	}
	added, removed := in.Added.Clone(), in.Removed.Clone()
	if bad := append(added.validateVocabulary(), removed.validateVocabulary()...); len(bad) > 0 {
		return Override{}, fmt.Errorf("%w: unknown %s", ErrValidation, strings.Join(bad, ", "))
	}
	if s.policy == ConflictReject {
		if both := added.Intersect(removed); len(both) > 0 {
			return Override{}, fmt.Errorf("%w: granted and revoked at once: %v", ErrValidation, both)
		}
	}

	params := UpsertParams{
		UserID:     in.UserID,
		BusinessID: in.BusinessID,
		Added:      added,
		Removed:    removed,
		Reason:     in.Reason,
		ExpiresAt:  copyTime(in.ExpiresAt),
		ActorID:    in.ActorID,
		ActionType: Classify(added, removed),
		Now:        s.now(),
	}
	o, entry, err := s.store.UpsertOverride(ctx, params)
	if err != nil {
		if errors.Is(err, ErrPartialWrite) {
			s.logger.Error("override write left history out of sync",
				slog.Int64("user_id", in.UserID),
				slog.Int64("business_id", in.BusinessID),
				slog.Any("error", err))
		}
		return Override{}, fmt.Errorf("authz: upsert override: %w", err)
	}
	s.logger.Info("override upserted",
		slog.Int64("actor_id", in.ActorID),
		slog.Int64("user_id", in.UserID),
		slog.Int64("business_id", in.BusinessID),
		slog.String("action_type", string(entry.ActionType)),
		slog.Int64("history_id", entry.ID))
	return o, nil
}

// ActiveOverride returns the current override or ErrNotFound.
func (s *Service) ActiveOverride(ctx context.Context, userID, businessID int64) (Override, error) {
	o, err := s.store.ActiveOverride(ctx, userID, businessID, s.now())
	if err != nil {
		return Override{}, err
	}
	if o == nil {
		return Override{}, ErrNotFound
	}
	return *o, nil
}

// DeactivateExpired flips expired overrides to inactive. Resolution already
// ignores them, so this only tidies storage.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	return s.store.DeactivateExpired(ctx, s.now())
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

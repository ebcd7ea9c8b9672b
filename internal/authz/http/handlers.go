// Package authzhttp serves the permission override editor and effective
// permission views.
package authzhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
	"github.com/odyssey-erp/inventra/internal/platform/httpx"
	"github.com/odyssey-erp/inventra/internal/shared"
	"github.com/odyssey-erp/inventra/jobs"
)

const idempotencyModule = "permissions"

// OverrideService is the write side of overrides.
type OverrideService interface {
	UpsertOverride(ctx context.Context, in authz.UpsertInput) (authz.Override, error)
	ActiveOverride(ctx context.Context, userID, businessID int64) (authz.Override, error)
}

// Idempotency rejects replayed writes that carry an Idempotency-Key header.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Scheduler defers an override write until its effective time.
type Scheduler interface {
	EnqueueApplyOverride(ctx context.Context, payload jobs.ApplyOverridePayload, processAt time.Time) (*asynq.TaskInfo, error)
}

// Handler serves /permissions.
type Handler struct {
	logger      *slog.Logger
	resolver    *authz.Resolver
	service     OverrideService
	idempotency Idempotency
	scheduler   Scheduler
	validator   *validator.Validate
	now         func() time.Time
}

// NewHandler builds a Handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, resolver *authz.Resolver, service OverrideService, idempotency Idempotency) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		resolver:    resolver,
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
		now:         time.Now,
	}
}

// WithScheduler enables effective_at on upserts.
func (h *Handler) WithScheduler(s Scheduler) *Handler {
	h.scheduler = s
	return h
}

type overrideRequest struct {
	Added       map[string][]string `json:"added"`
	Removed     map[string][]string `json:"removed"`
	Reason      string              `json:"reason" validate:"required,max=500"`
	ExpiresAt   *time.Time          `json:"expires_at"`
	EffectiveAt *time.Time          `json:"effective_at"`
}

type scheduledResponse struct {
	TaskID      string    `json:"task_id"`
	EffectiveAt time.Time `json:"effective_at"`
}

type effectiveResponse struct {
	UserID      int64               `json:"user_id"`
	Role        authz.Role          `json:"role"`
	BusinessID  int64               `json:"business_id,omitempty"`
	Permissions authz.PermissionMap `json:"permissions"`
	Override    *authz.Override     `json:"override,omitempty"`
}

type catalogResponse struct {
	Version   int                                `json:"version"`
	Roles     []authz.Role                       `json:"roles"`
	Resources []authz.Resource                   `json:"resources"`
	Actions   []authz.Action                     `json:"actions"`
	Baselines map[authz.Role]authz.PermissionMap `json:"baselines"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := guard.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, authz.ErrUnauthenticated)
		return
	}
	subj := authz.Subject{UserID: id.UserID, Role: id.Role, BusinessID: id.BusinessID}
	httpx.JSON(w, http.StatusOK, effectiveResponse{
		UserID:      id.UserID,
		Role:        id.Role,
		BusinessID:  id.BusinessID,
		Permissions: h.resolver.BuildEffectivePermissions(r.Context(), subj),
	})
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, businessID, err := targetIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, ok := authz.ParseRole(r.URL.Query().Get("role"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: role must be one of %v", authz.ErrValidation, authz.Roles()))
		return
	}
	subj := authz.Subject{UserID: userID, Role: role, BusinessID: businessID}

	resp := effectiveResponse{UserID: userID, Role: subj.Role, BusinessID: businessID}
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		resp.Permissions = h.resolver.BuildEffectivePermissions(ctx, subj)
		return nil
	})
	g.Go(func() error {
		o, err := h.service.ActiveOverride(ctx, userID, businessID)
		if errors.Is(err, authz.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.Override = &o
		return nil
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("load user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	actor, ok := guard.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, authz.ErrUnauthenticated)
		return
	}
	userID, businessID, err := targetIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body: %v", authz.ErrValidation, err))
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", authz.ErrValidation, fieldErrors(err)))
		return
	}
	added, err := authz.ParsePermissionMap(req.Added)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	removed, err := authz.ParsePermissionMap(req.Removed)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	deferred := req.EffectiveAt != nil && req.EffectiveAt.After(h.now())
	if deferred {
		if h.scheduler == nil {
			httpx.RespondError(w, fmt.Errorf("%w: effective_at is not supported", authz.ErrValidation))
			return
		}
		if req.ExpiresAt != nil && !req.ExpiresAt.After(*req.EffectiveAt) {
			httpx.RespondError(w, fmt.Errorf("%w: expires_at must be after effective_at", authz.ErrValidation))
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "request already processed")
				return
			}
			h.logger.Warn("idempotency check", slog.Any("error", err))
		}
	}

	if deferred {
		info, err := h.scheduler.EnqueueApplyOverride(r.Context(), jobs.ApplyOverridePayload{
			ActorID:    actor.UserID,
			ActorRole:  actor.Role,
			UserID:     userID,
			BusinessID: businessID,
			Added:      added,
			Removed:    removed,
			Reason:     req.Reason,
			ExpiresAt:  req.ExpiresAt,
		}, *req.EffectiveAt)
		if err != nil {
			h.rollbackIdempotency(r.Context(), key)
			h.logger.Error("schedule override", slog.Int64("user_id", userID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, scheduledResponse{TaskID: info.ID, EffectiveAt: *req.EffectiveAt})
		return
	}

	o, err := h.service.UpsertOverride(r.Context(), authz.UpsertInput{
		UserID:     userID,
		BusinessID: businessID,
		ActorID:    actor.UserID,
		Added:      added,
		Removed:    removed,
		Reason:     req.Reason,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.rollbackIdempotency(r.Context(), key)
		if !errors.Is(err, authz.ErrValidation) {
			h.logger.Error("upsert override", slog.Int64("user_id", userID),
				slog.Int64("business_id", businessID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) rollbackIdempotency(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(ctx, key, idempotencyModule); err != nil {
		h.logger.Warn("idempotency rollback", slog.Any("error", err))
	}
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := h.resolver.Catalog()
	baselines := make(map[authz.Role]authz.PermissionMap)
	for _, role := range catalog.Roles() {
		baselines[role] = catalog.Permissions(role)
	}
	httpx.JSON(w, http.StatusOK, catalogResponse{
		Version:   authz.VocabularyVersion,
		Roles:     authz.Roles(),
		Resources: authz.Resources(),
		Actions:   authz.Actions(),
		Baselines: baselines,
	})
}

func targetIDs(r *http.Request) (int64, int64, error) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid user id", authz.ErrValidation)
	}
	businessID, err := strconv.ParseInt(chi.URLParam(r, "businessID"), 10, 64)
	if err != nil || businessID <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid business id", authz.ErrValidation)
	}
	return userID, businessID, nil
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}

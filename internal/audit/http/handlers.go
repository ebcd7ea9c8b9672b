package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/inventra/internal/audit"
	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/platform/httpx"
)

// HistoryService defines the business contract for override history.
type HistoryService interface {
	Query(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]byte, error)
}

// Handler menangani permintaan riwayat override.
type Handler struct {
	logger  *slog.Logger
	service HistoryService
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service HistoryService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.respond(w, "query override history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	csvBytes, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.respond(w, "export override history", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"permission-history.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) respond(w http.ResponseWriter, message string, err error) {
	if !errors.Is(err, authz.ErrValidation) {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	var f audit.Filters
	var err error
	if f.UserID, err = optionalInt64(q.Get("user_id"), "user_id"); err != nil {
		return audit.Filters{}, err
	}
	if f.ActorID, err = optionalInt64(q.Get("actor_id"), "actor_id"); err != nil {
		return audit.Filters{}, err
	}
	if f.BusinessID, err = optionalInt64(q.Get("business_id"), "business_id"); err != nil {
		return audit.Filters{}, err
	}
	if v := strings.TrimSpace(q.Get("action_type")); v != "" {
		f.ActionType = authz.ActionType(strings.ToLower(v))
	}
	f.Text = strings.TrimSpace(q.Get("q"))
	page, err := optionalInt64(q.Get("page"), "page")
	if err != nil {
		return audit.Filters{}, err
	}
	size, err := optionalInt64(q.Get("page_size"), "page_size")
	if err != nil {
		return audit.Filters{}, err
	}
	f.Page, f.PageSize = int(page), int(size)
	return f, nil
}

func optionalInt64(raw, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", authz.ErrValidation, field)
	}
	return v, nil
}

// Package audit exposes the append-only override history for review and export.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/inventra/internal/authz"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Repository menyediakan akses baca ke riwayat override.
type Repository interface {
	QueryHistory(ctx context.Context, f authz.HistoryFilter) ([]authz.HistoryEntry, error)
}

// Service mengoordinasikan pengambilan data audit. Tidak ada operasi ubah atau hapus.
type Service struct {
	repo Repository
}

// NewService membuat service audit baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Query mengambil riwayat terbaru lebih dulu dengan paging.
func (s *Service) Query(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := validate(filters); err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	hf := historyFilter(filters)
	hf.Offset = (page - 1) * pageSize
	hf.Limit = pageSize + 1
	rows, err := s.repo.QueryHistory(ctx, hf)
	if err != nil {
		return Result{}, fmt.Errorf("audit: query history: %w", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []authz.HistoryEntry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Entries mengambil seluruh riwayat yang cocok tanpa paging.
func (s *Service) Entries(ctx context.Context, filters Filters) ([]authz.HistoryEntry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := validate(filters); err != nil {
		return nil, err
	}
	rows, err := s.repo.QueryHistory(ctx, historyFilter(filters))
	if err != nil {
		return nil, fmt.Errorf("audit: export history: %w", err)
	}
	return rows, nil
}

// Export menghasilkan CSV untuk seluruh riwayat yang cocok.
func (s *Service) Export(ctx context.Context, filters Filters) ([]byte, error) {
	rows, err := s.Entries(ctx, filters)
	if err != nil {
		return nil, err
	}
	return WriteCSV(rows)
}

func validate(f Filters) error {
	if f.ActionType != "" && !f.ActionType.Valid() {
		return fmt.Errorf("%w: unknown action_type %q", authz.ErrValidation, f.ActionType)
	}
	if f.UserID < 0 || f.ActorID < 0 || f.BusinessID < 0 {
		return fmt.Errorf("%w: ids must be positive", authz.ErrValidation)
	}
	return nil
}

func historyFilter(f Filters) authz.HistoryFilter {
	return authz.HistoryFilter{
		UserID:     f.UserID,
		ActorID:    f.ActorID,
		BusinessID: f.BusinessID,
		ActionType: f.ActionType,
		Text:       strings.TrimSpace(f.Text),
	}
}

package audit

import "github.com/odyssey-erp/inventra/internal/authz"

// Filters menampung filter untuk riwayat override izin.
type Filters struct {
	UserID     int64
	ActorID    int64
	BusinessID int64
	ActionType authz.ActionType
	Text       string
	Page       int
	PageSize   int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil riwayat dengan informasi paging.
type Result struct {
	Rows   []authz.HistoryEntry `json:"rows"`
	Paging PagingInfo           `json:"paging"`
}

package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/inventra/internal/authz"
)

var csvHeader = []string{
	"id", "created_at", "actor_id", "user_id", "business_id", "action_type",
	"added", "removed", "previous_added", "previous_removed", "reason", "expires_at",
}

// WriteCSV menulis riwayat ke CSV. Map izin ditulis sebagai "resource:action"
// yang dipisah spasi dan terurut.
func WriteCSV(rows []authz.HistoryEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range rows {
		expires := ""
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.ActorID, 10),
			strconv.FormatInt(e.UserID, 10),
			strconv.FormatInt(e.BusinessID, 10),
			string(e.ActionType),
			pairs(e.Added),
			pairs(e.Removed),
			pairs(e.PreviousAdded),
			pairs(e.PreviousRemoved),
			e.Reason,
			expires,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pairs(m authz.PermissionMap) string {
	perms := m.Pairs()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return strings.Join(out, " ")
}

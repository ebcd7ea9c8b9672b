package shared

import "fmt"

// OverrideLockKey names the per-(user, business) critical section that
// serializes override writes.
func OverrideLockKey(userID, businessID int64) string {
	return fmt.Sprintf("permission_override:%d:%d", userID, businessID)
}

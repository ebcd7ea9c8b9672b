package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/inventra/internal/platform/httpx"
)

var (
	// ErrUnauthenticated indicates no identity could be resolved.
	ErrUnauthenticated = fmt.Errorf("authz: unauthenticated: %w", httpx.ErrUnauthorized)
	// ErrForbidden indicates the identity lacks the requested permission.
	ErrForbidden = fmt.Errorf("authz: %w", httpx.ErrForbidden)
	// ErrValidation indicates an upsert was rejected before persistence.
	ErrValidation = fmt.Errorf("authz: %w", httpx.ErrValidation)
	// ErrPartialWrite indicates the override and its history entry diverged.
	ErrPartialWrite = errors.New("authz: partial override write")
	// ErrConflict indicates a concurrent writer won the per-key race.
	ErrConflict = fmt.Errorf("authz: concurrent override write: %w", httpx.ErrConflict)
	// ErrNotFound indicates no active override exists.
	ErrNotFound = fmt.Errorf("authz: override %w", httpx.ErrNotFound)
)

// ForbiddenError carries the attempted resource and actions of a denial.
type ForbiddenError struct {
	Resource Resource
	Actions  []Action
	Roles    []Role
}

func (e *ForbiddenError) Error() string {
	if len(e.Roles) > 0 {
		names := make([]string, len(e.Roles))
		for i, r := range e.Roles {
			names[i] = string(r)
		}
		return fmt.Sprintf("%s: role not in [%s]", ErrForbidden, strings.Join(names, ","))
	}
	names := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		names[i] = string(a)
	}
	return fmt.Sprintf("%s: %s:[%s]", ErrForbidden, e.Resource, strings.Join(names, ","))
}

// Unwrap lets errors.Is match ErrForbidden.
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

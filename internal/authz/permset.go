package authz

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ActionSet is an unordered set of actions.
type ActionSet map[Action]struct{}

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the actions in lexical order.
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionMap is the canonical Resource -> ActionSet container used for role
// baselines, override deltas and effective permission sets.
type PermissionMap map[Resource]ActionSet

// Permission is a single (resource, action) pair.
type Permission struct {
	Resource Resource
	Action   Action
}

// Has reports whether action is granted on resource. A nil map has nothing.
func (m PermissionMap) Has(resource Resource, action Action) bool {
	if m == nil {
		return false
	}
	return m[resource].Has(action)
}

// Add inserts actions under resource.
func (m PermissionMap) Add(resource Resource, actions ...Action) {
	set, ok := m[resource]
	if !ok {
		set = make(ActionSet, len(actions))
		m[resource] = set
	}
	for _, a := range actions {
		set[a] = struct{}{}
	}
}

// Remove deletes actions under resource, dropping the key once its set empties.
func (m PermissionMap) Remove(resource Resource, actions ...Action) {
	set, ok := m[resource]
	if !ok {
		return
	}
	for _, a := range actions {
		delete(set, a)
	}
	if len(set) == 0 {
		delete(m, resource)
	}
}

// Clone returns a deep copy. Cloning nil yields an empty map.
func (m PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(m))
	for res, set := range m {
		if len(set) == 0 {
			continue
		}
		cp := make(ActionSet, len(set))
		for a := range set {
			cp[a] = struct{}{}
		}
		out[res] = cp
	}
	return out
}

// Union adds every pair of other into m.
func (m PermissionMap) Union(other PermissionMap) {
	for res, set := range other {
		for a := range set {
			m.Add(res, a)
		}
	}
}

// Subtract removes every pair of other from m.
func (m PermissionMap) Subtract(other PermissionMap) {
	for res, set := range other {
		for a := range set {
			m.Remove(res, a)
		}
	}
}

// Intersect returns the pairs present in both maps.
func (m PermissionMap) Intersect(other PermissionMap) []Permission {
	var out []Permission
	for res, set := range m {
		for a := range set {
			if other.Has(res, a) {
				out = append(out, Permission{Resource: res, Action: a})
			}
		}
	}
	sortPermissions(out)
	return out
}

// Empty reports whether the map holds no pair.
func (m PermissionMap) Empty() bool {
	for _, set := range m {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// Pairs flattens the map into sorted (resource, action) pairs.
func (m PermissionMap) Pairs() []Permission {
	var out []Permission
	for res, set := range m {
		for a := range set {
			out = append(out, Permission{Resource: res, Action: a})
		}
	}
	sortPermissions(out)
	return out
}

// Equal compares two maps ignoring empty sets.
func (m PermissionMap) Equal(other PermissionMap) bool {
	a, b := m.Pairs(), other.Pairs()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Strings renders the map as resource -> sorted action names.
func (m PermissionMap) Strings() map[string][]string {
	out := make(map[string][]string, len(m))
	for res, set := range m {
		if len(set) == 0 {
			continue
		}
		actions := make([]string, 0, len(set))
		for _, a := range set.Sorted() {
			actions = append(actions, string(a))
		}
		out[string(res)] = actions
	}
	return out
}

// MarshalJSON encodes the map with sorted action lists.
func (m PermissionMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Strings())
}

// UnmarshalJSON decodes without vocabulary checks; stored documents may
// reference retired tags, which stay inert.
func (m *PermissionMap) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PermissionMap, len(raw))
	for res, actions := range raw {
		for _, a := range actions {
			out.Add(Resource(res), Action(a))
		}
	}
	*m = out
	return nil
}

// ParsePermissionMap converts raw input into a PermissionMap, folding tags onto
// the vocabulary. Unknown tags are reported, never silently dropped.
func ParsePermissionMap(raw map[string][]string) (PermissionMap, error) {
	out := make(PermissionMap, len(raw))
	var unknown []string
	for rawRes, rawActions := range raw {
		res, ok := ParseResource(rawRes)
		if !ok {
			unknown = append(unknown, "resource "+rawRes)
			continue
		}
		for _, rawAction := range rawActions {
			action, ok := ParseAction(rawAction)
			if !ok {
				unknown = append(unknown, "action "+rawRes+":"+rawAction)
				continue
			}
			out.Add(res, action)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown %v", ErrValidation, unknown)
	}
	return out, nil
}

// validateVocabulary reports pairs outside the vocabulary.
func (m PermissionMap) validateVocabulary() []string {
	var bad []string
	for res, set := range m {
		if !res.Valid() {
			bad = append(bad, "resource "+string(res))
			continue
		}
		for a := range set {
			if !a.Valid() {
				bad = append(bad, "action "+string(res)+":"+string(a))
			}
		}
	}
	sort.Strings(bad)
	return bad
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}

func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Package rbac models administrator permissions as a typed mapping from
// capability to a set of allowed actions.
//
// Roles store their permissions as JSON, e.g.
//
//	{"users": ["read", "write"], "reports": ["read"]}
//
// Decoding rejects capability or action names that are not declared below,
// so a typo in a role definition fails loudly instead of silently granting
// (or hiding) access.
//
// An admin holding several roles gets the union of their permissions:
// Merge(roleA, roleB) contains every action either role allows, per
// capability, with no duplicates and no dependence on role order.
package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Capability is a named area of administration.
type Capability string

const (
	CapUsers        Capability = "users"
	CapCommunities  Capability = "communities"
	CapTechnologies Capability = "technologies"
	CapJoinRequests Capability = "join_requests"
	CapReports      Capability = "reports"
	CapContent      Capability = "content"
	CapSettings     Capability = "settings"
	CapAdmins       Capability = "admins"
)

// Action is something an admin may do within a capability.
type Action string

const (
	ActRead    Action = "read"
	ActWrite   Action = "write"
	ActDelete  Action = "delete"
	ActApprove Action = "approve"
	ActManage  Action = "manage"
)

var knownCapabilities = map[Capability]bool{
	CapUsers: true, CapCommunities: true, CapTechnologies: true, CapJoinRequests: true,
	CapReports: true, CapContent: true, CapSettings: true, CapAdmins: true,
}

var knownActions = map[Action]bool{
	ActRead: true, ActWrite: true, ActDelete: true, ActApprove: true, ActManage: true,
}

// AllCapabilities returns every declared capability in a stable order.
func AllCapabilities() []Capability {
	out := make([]Capability, 0, len(knownCapabilities))
	for c := range knownCapabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllActions returns every declared action in a stable order.
func AllActions() []Action {
	out := make([]Action, 0, len(knownActions))
	for a := range knownActions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !knownCapabilities[c] {
		return "", fmt.Errorf("rbac: unknown capability %q", s)
	}
	return c, nil
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !knownActions[a] {
		return "", fmt.Errorf("rbac: unknown action %q", s)
	}
	return a, nil
}

// ActionSet is a set of actions.
type ActionSet map[Action]struct{}

// Sorted returns the actions in lexical order.
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permissions maps each capability to the actions allowed on it.
// The zero value (nil) grants nothing and is safe to read.
type Permissions map[Capability]ActionSet

// New builds Permissions from a plain map, validating every key.
func New(raw map[string][]string) (Permissions, error) {
	p := Permissions{}
	for capName, actions := range raw {
		c, err := ParseCapability(capName)
		if err != nil {
			return nil, err
		}
		for _, actName := range actions {
			a, err := ParseAction(actName)
			if err != nil {
				return nil, fmt.Errorf("rbac: capability %q: %w", capName, err)
			}
			p.Grant(c, a)
		}
		// A capability listed with no actions still appears in the output.
		if _, ok := p[c]; !ok {
			p[c] = ActionSet{}
		}
	}
	return p, nil
}

// MustNew is New for static role definitions; it panics on unknown keys.
func MustNew(raw map[string][]string) Permissions {
	p, err := New(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Grant adds an action to a capability.
func (p Permissions) Grant(c Capability, a Action) {
	set, ok := p[c]
	if !ok {
		set = ActionSet{}
		p[c] = set
	}
	set[a] = struct{}{}
}

// Allows reports whether the action is granted on the capability.
// ActManage implies every other action on the same capability.
func (p Permissions) Allows(c Capability, a Action) bool {
	set, ok := p[c]
	if !ok {
		return false
	}
	if _, ok := set[a]; ok {
		return true
	}
	_, manage := set[ActManage]
	return manage
}

// Plain converts back to a string map with sorted action lists.
func (p Permissions) Plain() map[string][]string {
	out := make(map[string][]string, len(p))
	for c, set := range p {
		actions := set.Sorted()
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		out[string(c)] = names
	}
	return out
}

// Merge returns the per-capability union of all inputs. Inputs are not
// modified.
func Merge(ps ...Permissions) Permissions {
	out := Permissions{}
	for _, p := range ps {
		for c, set := range p {
			if _, ok := out[c]; !ok {
				out[c] = ActionSet{}
			}
			for a := range set {
				out[c][a] = struct{}{}
			}
		}
	}
	return out
}

// MarshalJSON writes the permissions with sorted, duplicate-free action lists.
func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Plain())
}

// UnmarshalJSON rejects unknown capability and action names.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rbac: decoding permissions: %w", err)
	}
	parsed, err := New(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SuperAdmin grants every action on every capability.
func SuperAdmin() Permissions {
	p := Permissions{}
	for _, c := range AllCapabilities() {
		for _, a := range AllActions() {
			p.Grant(c, a)
		}
	}
	return p
}

// Moderator covers day-to-day community staff.
func Moderator() Permissions {
	return MustNew(map[string][]string{
		"users":         {"read"},
		"communities":   {"read", "write"},
		"join_requests": {"read", "approve"},
		"reports":       {"read"},
		"content":       {"read", "write", "delete"},
	})
}

// Package safety decides whether a generated command may be handed to the
// shell. The check is a first-token allow-list, nothing more: arguments and
// flags are never inspected, so an allow-listed verb with destructive flags
// still passes.
package safety

import "strings"

// AllowList is an immutable set of permitted command verbs.
type AllowList struct {
	ordered []string
	set     map[string]struct{}
}

// NewAllowList builds an AllowList from verbs. Matching is
// case-insensitive; Verbs still reports the entries as configured, minus
// blanks.
func NewAllowList(verbs ...string) AllowList {
	a := AllowList{set: make(map[string]struct{}, len(verbs))}
	for _, v := range verbs {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		a.set[strings.ToLower(v)] = struct{}{}
		a.ordered = append(a.ordered, v)
	}
	return a
}

// Contains reports whether verb (already lower-cased) is allowed.
func (a AllowList) Contains(verb string) bool {
	_, ok := a.set[verb]
	return ok
}

// Verbs returns a copy of the configured verbs, spelled and ordered as given.
func (a AllowList) Verbs() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Gate checks candidate commands against an AllowList.
type Gate struct {
	allow AllowList
}

func NewGate(allow AllowList) *Gate {
	return &Gate{allow: allow}
}

// IsSafe reports whether the lower-cased first whitespace-delimited token of
// command is allow-listed. Empty input is never safe.
func (g *Gate) IsSafe(command string) bool {
	return g.allow.Contains(FirstToken(command))
}

// Allowed returns the allow-list for display to callers.
func (g *Gate) Allowed() []string {
	return g.allow.Verbs()
}

// FirstToken returns the lower-cased first whitespace-delimited token of
// command, or "" when there is none.
func FirstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

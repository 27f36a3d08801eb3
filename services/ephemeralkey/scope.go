package ephemeralkey

import (
	"voiceplane/pkg/errutil"
)

// Scope is a named capability an ephemeral key may carry. The set of valid
// scopes is closed; anything outside it is rejected at the boundary.
type Scope string

const (
	ScopeVoiceConnect   Scope = "voice:connect"
	ScopeVoiceSpeak     Scope = "voice:speak"
	ScopeMemoryRead     Scope = "memory:read"
	ScopeMemoryWrite    Scope = "memory:write"
	ScopeAssistantQuery Scope = "assistant:query"
	ScopeWildcard       Scope = "*"
)

var validScopes = map[Scope]struct{}{
	ScopeVoiceConnect:   {},
	ScopeVoiceSpeak:     {},
	ScopeMemoryRead:     {},
	ScopeMemoryWrite:    {},
	ScopeAssistantQuery: {},
	ScopeWildcard:       {},
}

// Valid reports whether the scope is a member of the whitelist.
// Matching is case-sensitive.
func (s Scope) Valid() bool {
	_, ok := validScopes[s]
	return ok
}

// ScopeSet is an order-irrelevant set of scopes.
type ScopeSet []Scope

// Allows reports whether the set grants the requested capability. The
// wildcard grants everything. An empty set grants nothing.
func (set ScopeSet) Allows(want Scope) bool {
	for _, s := range set {
		if s == ScopeWildcard || s == want {
			return true
		}
	}
	return false
}

func (set ScopeSet) Strings() []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		out = append(out, string(s))
	}
	return out
}

// ParseScopes validates a raw scope list against the whitelist. Unknown
// entries are reported per field; a nil or empty input yields an empty set.
func ParseScopes(raw []string) (ScopeSet, error) {
	set := make(ScopeSet, 0, len(raw))
	var details []errutil.Detail

	for _, r := range raw {
		s := Scope(r)
		if !s.Valid() {
			details = append(details, errutil.Detail{
				Field:   "scopes",
				Message: "unknown scope: " + r,
			})
			continue
		}
		set = append(set, s)
	}

	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid scopes", errutil.WithDetails(details...))
	}

	return set, nil
}

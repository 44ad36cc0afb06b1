// Package scopes validates Twitch OAuth tokens against the permission scopes
// each bot feature needs and resolves channel logins to broadcaster ids.
package scopes

import (
	"sort"
)

// Criticality tells whether a missing feature blocks startup.
type Criticality int

const (
	Critical Criticality = iota
	Optional
)

func (c Criticality) String() string {
	if c == Critical {
		return "critical"
	}
	return "optional"
}

// Requirement binds a bot feature to the scopes it needs. The feature is
// available iff every scope is granted.
type Requirement struct {
	Key         string
	Name        string
	Description string
	Criticality Criticality
	Scopes      []string
}

// Missing returns the required scopes absent from granted, in declaration order.
func (r Requirement) Missing(granted map[string]struct{}) []string {
	var out []string
	for _, s := range r.Scopes {
		if _, ok := granted[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Registry is the ordered list of feature requirements.
type Registry []Requirement

// DefaultRegistry returns the requirements for the features the bot ships.
func DefaultRegistry() Registry {
	return Registry{
		{
			Key:         "chat",
			Name:        "Chat Commands",
			Description: "Read and send chat messages",
			Criticality: Critical,
			Scopes:      []string{"chat:read", "chat:edit"},
		},
		{
			Key:         "eventsub_stream",
			Name:        "Stream Events",
			Description: "Stream online/offline notifications",
			Criticality: Optional,
			Scopes:      []string{"channel:read:stream_key"},
		},
		{
			Key:         "eventsub_follow",
			Name:        "Follow Events",
			Description: "New follower notifications",
			Criticality: Optional,
			Scopes:      []string{"moderator:read:followers"},
		},
		{
			Key:         "eventsub_raid",
			Name:        "Raid Events",
			Description: "Incoming raid notifications",
			Criticality: Optional,
			Scopes:      []string{"channel:manage:raids"},
		},
		{
			Key:         "moderation",
			Name:        "Moderation",
			Description: "Timeouts, bans and message deletion",
			Criticality: Optional,
			Scopes:      []string{"moderator:manage:banned_users", "moderator:manage:chat_messages"},
		},
	}
}

// Requirement looks a requirement up by key.
func (reg Registry) Requirement(key string) (Requirement, bool) {
	for _, r := range reg {
		if r.Key == key {
			return r, true
		}
	}
	return Requirement{}, false
}

// AllScopes returns the sorted union of every requirement's scopes.
func (reg Registry) AllScopes() []string {
	return reg.scopes(func(Requirement) bool { return true })
}

// CriticalScopes returns the sorted union of the critical requirements' scopes.
func (reg Registry) CriticalScopes() []string {
	return reg.scopes(func(r Requirement) bool { return r.Criticality == Critical })
}

func (reg Registry) scopes(keep func(Requirement) bool) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range reg {
		if !keep(r) {
			continue
		}
		for _, s := range r.Scopes {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

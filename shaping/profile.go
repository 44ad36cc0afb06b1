// Package shaping turns raw local-LLM completions into chat-sized replies.
//
// Each chat context kind has a Profile: the generation parameters sent to the
// model (soft token budget, temperature, repeat penalty, stop sequences) and
// the post-processing rules applied afterwards (drift phrases, hard character
// ceiling). The soft budget only biases the model; the hard ceiling is always
// enforced by Shape.
package shaping

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatMessageLimit is Twitch's maximum chat message length in characters.
const ChatMessageLimit = 500

// Kind identifies a chat context that gets its own generation profile.
type Kind string

const (
	KindAsk          Kind = "ask"
	KindMentionShort Kind = "mention"
	KindMentionLong  Kind = "mention_long"
	KindGenShort     Kind = "gen_short"
	KindGenLong      Kind = "gen_long"
)

// ErrUnknownKind is returned when a profile table has no entry for a kind.
var ErrUnknownKind = errors.New("unknown context kind")

// Profile holds generation parameters and post-processing limits for one Kind.
// Profiles are values; callers must not mutate the slices they carry.
type Profile struct {
	Kind          Kind
	MaxTokens     int
	Temperature   float32
	RepeatPenalty float32
	Stop          []string
	// HardLimit is the output ceiling in characters (Unicode code points).
	HardLimit    int
	DriftPhrases []string
	// Timeout bounds a single inference request for this kind.
	Timeout time.Duration
}

// DefaultDriftPhrases are transitions after which a small instruct model tends
// to wander into examples and qualifiers instead of answering.
var DefaultDriftPhrases = []string{
	"en résumé",
	"on peut également",
	"il est intéressant de noter",
	"pour comprendre cela",
	"de plus",
	"en outre",
	"par ailleurs",
	"ce phénomène peut aussi",
	"d'autres exemples incluent",
	"il faut noter que",
	"par exemple",
}

// Profiles is an immutable lookup table of profiles by kind.
type Profiles struct {
	byKind map[Kind]Profile
}

// NewProfiles builds a table from the given profiles. A later profile with the
// same kind replaces an earlier one. Slices are copied.
func NewProfiles(ps ...Profile) Profiles {
	m := make(map[Kind]Profile, len(ps))
	for _, p := range ps {
		p.Stop = append([]string(nil), p.Stop...)
		p.DriftPhrases = append([]string(nil), p.DriftPhrases...)
		m[p.Kind] = p
	}
	return Profiles{byKind: m}
}

// DefaultProfiles returns the tuned profile table for Mistral 7B Instruct.
//
// ask keeps a 250 character ceiling (soft budget 200 tokens plus 25% margin);
// long generations are capped at 400 and cut at drift phrases.
func DefaultProfiles() Profiles {
	return NewProfiles(
		Profile{
			Kind:          KindAsk,
			MaxTokens:     200,
			Temperature:   0.3,
			RepeatPenalty: 1.1,
			Stop:          []string{"\n", "🔚"},
			HardLimit:     250,
			Timeout:       15 * time.Second,
		},
		Profile{
			Kind:          KindMentionShort,
			MaxTokens:     200,
			Temperature:   0.7,
			RepeatPenalty: 1.1,
			Stop:          []string{"\n"},
			HardLimit:     ChatMessageLimit,
			Timeout:       15 * time.Second,
		},
		Profile{
			Kind:          KindMentionLong,
			MaxTokens:     100,
			Temperature:   0.4,
			RepeatPenalty: 1.2,
			Stop:          []string{"🔚", "\n", "400.", "Exemple :", "En résumé,"},
			HardLimit:     400,
			DriftPhrases:  DefaultDriftPhrases,
			Timeout:       20 * time.Second,
		},
		Profile{
			Kind:          KindGenShort,
			MaxTokens:     150,
			Temperature:   0.7,
			RepeatPenalty: 1.1,
			Stop:          []string{"\n"},
			HardLimit:     ChatMessageLimit,
			Timeout:       12 * time.Second,
		},
		Profile{
			Kind:          KindGenLong,
			MaxTokens:     100,
			Temperature:   0.4,
			RepeatPenalty: 1.2,
			Stop:          []string{"🔚", "\n"},
			HardLimit:     400,
			DriftPhrases:  DefaultDriftPhrases,
			Timeout:       15 * time.Second,
		},
	)
}

// Lookup returns the profile registered for kind.
func (t Profiles) Lookup(kind Kind) (Profile, error) {
	p, ok := t.byKind[kind]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// Kinds lists the registered kinds.
func (t Profiles) Kinds() []Kind {
	out := make([]Kind, 0, len(t.byKind))
	for k := range t.byKind {
		out = append(out, k)
	}
	return out
}

// Classify maps a caller context ("ask", "mention", anything else) and a
// long/short classification to a Kind. ask ignores the long flag.
func Classify(context string, long bool) Kind {
	switch strings.ToLower(context) {
	case "ask":
		return KindAsk
	case "mention":
		if long {
			return KindMentionLong
		}
		return KindMentionShort
	}
	if long {
		return KindGenLong
	}
	return KindGenShort
}

package shaping

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// Observer receives the outcome of every shaped response, typically to feed
// metrics. It must be safe for concurrent use.
type Observer func(kind Kind, oc Outcome)

// Shaper shapes responses using a profile table.
type Shaper struct {
	profiles Profiles
	observe  Observer
}

// NewShaper returns a Shaper over profiles. obs may be nil.
func NewShaper(profiles Profiles, obs Observer) *Shaper {
	return &Shaper{profiles: profiles, observe: obs}
}

// Profile returns the profile for kind.
func (s *Shaper) Profile(kind Kind) (Profile, error) { return s.profiles.Lookup(kind) }

// Shape looks up the profile for kind and shapes raw with it.
func (s *Shaper) Shape(kind Kind, raw string) (string, Outcome, error) {
	p, err := s.profiles.Lookup(kind)
	if err != nil {
		return "", Outcome{}, err
	}
	out, oc := shape(raw, p)
	if s.observe != nil {
		s.observe(kind, oc)
	}
	return out, oc, nil
}

// StripSelfIntroduction removes a leading self-introduction such as
// "Bonjour ! Je suis KissBot, ..." from a reply. If what remains is shorter
// than 10 characters the original text is returned.
func StripSelfIntroduction(text, botName string) string {
	if text == "" || botName == "" {
		return text
	}
	name := regexp.QuoteMeta(botName)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*bonjour.*?` + name + `[^.]*\.?\s*`),
		regexp.MustCompile(`(?i)^\s*salut.*?` + name + `[^.]*\.?\s*`),
		regexp.MustCompile(`(?i)^\s*je suis ` + name + `[^.]*\.?\s*`),
		regexp.MustCompile(`(?i)^\s*moi,?\s*` + name + `[^,!.]*[,!.]\s*`),
		regexp.MustCompile(`(?i)^\s*` + name + `,\s*[^.]*\.?\s*`),
	}
	cleaned := text
	for _, re := range patterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	if cleaned == text {
		return text
	}
	cleaned = strings.Trim(cleaned, " ,.!")
	if utf8.RuneCountInString(cleaned) < 10 {
		return text
	}
	r, size := utf8.DecodeRuneInString(cleaned)
	return string(unicode.ToUpper(r)) + cleaned[size:]
}

// MarkLengthStop marks a reply whose generation stopped on the token budget:
// trailing punctuation is replaced by "...". The result stays within
// p.HardLimit.
func MarkLengthStop(text string, p Profile) string {
	if text == "" || strings.HasSuffix(text, ellipsis) {
		return text
	}
	base := strings.TrimRight(text, ".!?,;: ")
	if p.HardLimit > 0 {
		if p.HardLimit <= len(ellipsis) {
			return text
		}
		if utf8.RuneCountInString(base)+len(ellipsis) > p.HardLimit {
			base = strings.TrimRightFunc(prefixRunes(base, p.HardLimit-len(ellipsis)), unicode.IsSpace)
		}
	}
	return base + ellipsis
}

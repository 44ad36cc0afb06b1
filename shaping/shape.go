package shaping

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Outcome reports which post-processing steps changed a response.
type Outcome struct {
	DriftCut    bool // a drift phrase and everything after it was removed
	SentenceCut bool // cut at the last sentence end before the hard limit
	HardCut     bool // cut at the hard limit with no boundary awareness
}

// Changed reports whether any step modified the input.
func (o Outcome) Changed() bool { return o.DriftCut || o.SentenceCut || o.HardCut }

// Shape applies the profile's post-processing to a raw completion.
//
// The earliest drift phrase (case-insensitive) truncates the text. The result
// is then fitted to HardLimit characters, preferring the rightmost sentence
// end inside the limit. The output never exceeds HardLimit when HardLimit > 0,
// and Shape(Shape(s, p), p) == Shape(s, p).
func Shape(raw string, p Profile) string {
	out, _ := shape(raw, p)
	return out
}

func shape(raw string, p Profile) (string, Outcome) {
	var oc Outcome
	if raw == "" {
		return "", oc
	}
	text := raw
	if i := earliestDrift(text, p.DriftPhrases); i >= 0 {
		text = strings.TrimRightFunc(text[:i], unicode.IsSpace)
		oc.DriftCut = true
	}
	if p.HardLimit <= 0 || utf8.RuneCountInString(text) <= p.HardLimit {
		return text, oc
	}
	head := prefixRunes(text, p.HardLimit)
	if cut, ok := sentenceCut(head); ok {
		oc.SentenceCut = true
		return cut, oc
	}
	oc.HardCut = true
	if trimmed := strings.TrimRightFunc(head, unicode.IsSpace); trimmed != "" {
		return trimmed, oc
	}
	return head, oc
}

// earliestDrift returns the byte offset of the earliest occurrence of any
// phrase in s, or -1.
func earliestDrift(s string, phrases []string) int {
	best := -1
	for _, ph := range phrases {
		if ph == "" {
			continue
		}
		limit := len(s)
		if best >= 0 {
			limit = best
		}
		if i := indexFold(s, ph, limit); i >= 0 {
			best = i
		}
	}
	return best
}

// indexFold finds the first case-insensitive occurrence of sub in s that
// starts before byte offset limit.
func indexFold(s, sub string, limit int) int {
	n := utf8.RuneCountInString(sub)
	for i := 0; i < len(s) && i < limit; {
		if hasPrefixFold(s[i:], sub, n) {
			return i
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1
}

func hasPrefixFold(s, sub string, runes int) bool {
	head := prefixRunes(s, runes)
	if utf8.RuneCountInString(head) < runes {
		return false
	}
	return strings.EqualFold(head, sub)
}

// prefixRunes returns the first n code points of s.
func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// sentenceCut keeps s up to and including its last sentence terminator.
func sentenceCut(s string) (string, bool) {
	i := strings.LastIndexFunc(s, isSentenceEnd)
	if i < 0 {
		return "", false
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	cut := s[:i+size]
	if strings.TrimFunc(cut, func(r rune) bool { return unicode.IsSpace(r) || isSentenceEnd(r) }) == "" {
		return "", false
	}
	return cut, true
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

package keyword

import (
	"strings"
	"unicode"
)

// Spotter decides utterance by utterance whether a keyword activation should
// deliver what it heard. It is not safe for concurrent use.
type Spotter struct {
	phrases   []string
	unspaced  []bool
	followUps int
	remaining int
}

func NewSpotter(m *Model) *Spotter {
	s := &Spotter{followUps: m.FollowUps}
	for _, p := range m.Phrases {
		if n := normalize(p); n != "" {
			s.phrases = append(s.phrases, n)
			s.unspaced = append(s.unspaced, isUnspaced(n))
		}
	}
	return s
}

// Match reports whether text contains one of the wake phrases. Phrases in
// scripts written without spaces match anywhere; others need word boundaries.
func (s *Spotter) Match(text string) bool {
	norm := normalize(text)
	padded := " " + norm + " "
	compact := strings.ReplaceAll(norm, " ", "")
	for i, p := range s.phrases {
		if s.unspaced[i] {
			if strings.Contains(compact, strings.ReplaceAll(p, " ", "")) {
				return true
			}
			continue
		}
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// Accept is called once per final utterance text and reports whether the
// utterance passes the gate. A match re-arms the follow-up window.
func (s *Spotter) Accept(text string) bool {
	if s.Match(text) {
		s.remaining = s.followUps
		return true
	}
	if s.remaining > 0 {
		s.remaining--
		return true
	}
	return false
}

// normalize lowercases, strips punctuation and collapses whitespace.
func normalize(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// isUnspaced 短语中含有汉字、假名或谚文
func isUnspaced(phrase string) bool {
	for _, r := range phrase {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

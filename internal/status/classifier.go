// Package status normalizes free-text delivery statuses into canonical stages.
// It is the only place where provider vocabulary is matched; callers must not
// reimplement substring checks locally.
package status

import (
	"strings"
	"unicode"

	"github.com/BearBump/ShopTrack/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var separators = strings.NewReplacer("_", " ", "-", " ", "'", " ", "’", " ", ".", " ", ",", " ", ":", " ")

// Classify maps a primary provider status and an optional secondary/reason code
// to a canonical stage. It never fails: unknown or empty input is CREATED.
//
// Precedence: terminal keywords in either string win, then exception keywords
// in either string (ON_HOLD), then in-progress keywords of the primary status,
// then of the secondary one.
func Classify(raw, secondaryRaw string) (models.Stage, bool) {
	primary := normalize(raw)
	secondary := normalize(secondaryRaw)
	if primary == "" && secondary == "" {
		return models.StageCreated, false
	}

	held := false
	terminalText := primary + " | " + secondary
	for _, p := range negatedPhrases {
		if strings.Contains(terminalText, p) {
			held = true
			terminalText = strings.ReplaceAll(terminalText, p, " ")
		}
	}
	for _, p := range maskedPhrases {
		terminalText = strings.ReplaceAll(terminalText, p, " ")
	}
	if cut, ok := cutNegatedTerminals(terminalText); ok {
		held = true
		terminalText = cut
	}

	if st, ok := matchRules(terminalRules, terminalText); ok {
		return st, true
	}
	if held || containsAny(primary, exceptionKeywords...) || containsAny(secondary, exceptionKeywords...) {
		return models.StageOnHold, false
	}
	if st, ok := matchRules(progressRules, primary); ok {
		return st, false
	}
	if st, ok := matchRules(progressRules, secondary); ok {
		return st, false
	}
	return models.StageCreated, false
}

func ClassifyOrder(o models.Order) (models.Stage, bool) {
	return Classify(o.RawStatus, o.RawSecondaryStatus)
}

func ClassifySnapshot(s models.TrackingSnapshot) (models.Stage, bool) {
	return Classify(s.DeliveryStatus, s.SecondaryStatus)
}

// IsOpen reports whether the order is still in flight.
func IsOpen(o models.Order) bool {
	_, terminal := ClassifyOrder(o)
	return !terminal
}

// cutNegatedTerminals blanks every negator together with the terminal words
// that follow it within negationWindow words. The window stops at the first
// token without letters, e.g. "|" between primary and secondary or "/".
func cutNegatedTerminals(text string) (string, bool) {
	words := strings.Fields(text)
	cut := false
	for i := 0; i < len(words); i++ {
		if !isNegator(words[i]) {
			continue
		}
		last := -1
		for j := i + 1; j < len(words) && j <= i+negationWindow && hasLetter(words[j]); j++ {
			if isTerminalWord(words[j]) {
				last = j
			}
		}
		if last < 0 {
			continue
		}
		for k := i; k <= last; k++ {
			words[k] = ""
		}
		cut = true
		i = last
	}
	if !cut {
		return text, false
	}
	return strings.Join(strings.Fields(strings.Join(words, " ")), " "), true
}

func hasLetter(w string) bool {
	for _, r := range w {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isNegator(w string) bool {
	for _, n := range negators {
		if w == n {
			return true
		}
	}
	return false
}

func isTerminalWord(w string) bool {
	for _, r := range terminalRules {
		for _, k := range r.keywords {
			if !strings.Contains(k, " ") && strings.Contains(w, k) {
				return true
			}
		}
	}
	return false
}

func matchRules(rules []rule, text string) (models.Stage, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	// Пробелы по краям, чтобы ключевые слова вида " pret " ловили целое слово.
	text = " " + text + " "
	for _, r := range rules {
		if containsAny(text, r.keywords...) {
			return r.stage, true
		}
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	// transform.Chain хранит состояние, поэтому собираем его на каждый вызов.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(fold, s); err == nil {
		s = out
	}
	s = separators.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

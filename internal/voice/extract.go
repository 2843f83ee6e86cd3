package voice

import (
	"regexp"
	"strings"
)

// ExtractCommand reports whether transcript mentions the wake phrase and
// returns the text left after removing it. The check is a case-insensitive
// substring test; removal only strips whole-word occurrences together with
// a trailing comma or period.
func ExtractCommand(transcript, phrase string) (string, bool) {
	text := strings.TrimSpace(transcript)
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || !strings.Contains(strings.ToLower(text), strings.ToLower(phrase)) {
		return "", false
	}
	return strings.TrimSpace(wakePattern(phrase).ReplaceAllString(text, "")), true
}

func wakePattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b[,.]?\s*`)
}

// Personal.AI order the ending

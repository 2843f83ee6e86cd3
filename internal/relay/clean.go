package relay

import (
	"regexp"
	"strings"
)

var (
	actionRe     = regexp.MustCompile(`\*[^*]+\*`)
	decorationRe = regexp.MustCompile(`[🐾✨🎉💕🐶🦴❤️😊🥺😴🤔😮💤🎵]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// CleanForSpeech strips *action* spans and decorative symbols from a reply
// and collapses whitespace, leaving only what should be spoken.
func CleanForSpeech(reply string) string {
	s := actionRe.ReplaceAllString(reply, "")
	s = decorationRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Personal.AI order the ending

package relay

import (
	"strings"

	"github.com/turtacn/Snowy/internal/affect"
)

// Rule maps a predicate over lower-cased reply text to an affect signal.
type Rule struct {
	Name   string
	Match  func(lower string) bool
	Signal affect.Signal
}

// Rules is an ordered rule table. The first matching rule wins; Fallback
// applies when none match.
type Rules struct {
	List     []Rule
	Fallback affect.Signal
}

// Infer returns the signal for text. It is case-insensitive and deterministic.
func (r Rules) Infer(text string) affect.Signal {
	lower := strings.ToLower(text)
	for _, rule := range r.List {
		if rule.Match(lower) {
			return rule.Signal
		}
	}
	return r.Fallback
}

// DefaultRules is the built-in table, ordered from the most to the least
// intense category.
func DefaultRules() Rules {
	return Rules{
		List: []Rule{
			{Name: "ecstatic", Signal: affect.Ecstatic, Match: func(s string) bool {
				return (strings.Contains(s, "wags tail") && containsAny(s, "excit", "fast")) ||
					containsAny(s, "jumping", "bouncing", "so happy", "so excited", "spins", "zoomies")
			}},
			{Name: "playful", Signal: affect.Playful, Match: anyOf("play bow", "let's play", "playful", "fetch", "tongue out", "panting")},
			{Name: "curious", Signal: affect.Curious, Match: anyOf("tilts head", "head tilt", "perks up ear", "sniffs", "curious", "what's that", "hmm", "interesting")},
			{Name: "happy", Signal: affect.Happy, Match: anyOf("wags tail", "happy", "glad", "smile", "woof", "hi hi", "hello")},
			{Name: "alert", Signal: affect.Alert, Match: anyOf("ears perk", "alert", "hears something", "what was that")},
			{Name: "sleepy", Signal: affect.Sleepy, Match: anyOf("yawn", "sleepy", "tired", "nap", "curls up", "rests")},
			{Name: "lonely", Signal: affect.Lonely, Match: anyOf("miss", "lonely", "whimper", "sad")},
			{Name: "confused", Signal: affect.Confused, Match: anyOf("confused", "don't understand", "puzzled", "huh")},
			{Name: "warm", Signal: affect.Happy, Match: anyOf("!", "love")},
		},
		Fallback: affect.Content,
	}
}

func anyOf(words ...string) func(string) bool {
	return func(s string) bool { return containsAny(s, words...) }
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Personal.AI order the ending

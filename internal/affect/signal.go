package affect

import "strings"

// Signal is one discrete emotional tag driving the presentation layer.
type Signal string

const (
	Happy    Signal = "happy"
	Ecstatic Signal = "ecstatic"
	Curious  Signal = "curious"
	Playful  Signal = "playful"
	Content  Signal = "content"
	Sleepy   Signal = "sleepy"
	Lonely   Signal = "lonely"
	Confused Signal = "confused"
	Alert    Signal = "alert"
)

// Default is what unknown input normalizes to.
const Default = Happy

var all = []Signal{Happy, Ecstatic, Curious, Playful, Content, Sleepy, Lonely, Confused, Alert}

// All returns the closed set of signals.
func All() []Signal {
	return append([]Signal(nil), all...)
}

// Parse normalizes s into a Signal. It never fails: unknown tags map to Default.
func Parse(s string) Signal {
	candidate := Signal(strings.ToLower(strings.TrimSpace(s)))
	for _, sig := range all {
		if sig == candidate {
			return sig
		}
	}
	return Default
}

func (s Signal) String() string { return string(s) }

// Personal.AI order the ending

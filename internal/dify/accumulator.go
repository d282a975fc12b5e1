package dify

import (
	"strings"
	"unicode/utf8"
)

// Accumulator builds the generated document from a sequence of events.
// Chunks append; a WorkflowFinished event with content replaces everything
// accumulated so far. An Accumulator belongs to a single attempt.
type Accumulator struct {
	b     strings.Builder
	nodes int
}

// Apply folds e into the result and returns e with Sequence filled in for
// NodeFinished events. changed reports whether the text was modified.
func (a *Accumulator) Apply(e Event) (out Event, changed bool) {
	switch e.Kind {
	case KindTextChunk, KindDirectContent:
		a.b.WriteString(e.Text)
		return e, e.Text != ""
	case KindWorkflowFinished:
		if e.HasContent {
			a.b.Reset()
			a.b.WriteString(e.Text)
			return e, true
		}
	case KindNodeFinished:
		a.nodes++
		e.Sequence = a.nodes
	}
	return e, false
}

func (a *Accumulator) String() string { return a.b.String() }

// Len returns the accumulated length in characters.
func (a *Accumulator) Len() int { return utf8.RuneCountInString(a.b.String()) }

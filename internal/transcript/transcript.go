// Package transcript maintains the ordered sequence of conversational turns
// for one practice session.
//
// Turns are append-only: nothing is ever reordered or removed. A turn that
// exactly repeats the immediately preceding accepted turn (same role, same
// content) is dropped, which shields the log against double-submission of the
// same utterance by the realtime channel.
package transcript

import (
	"strings"
	"sync"

	"github.com/lingora/lingora/internal/model"
)

// Accumulator collects turns in arrival order. Safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	turns []model.Turn
}

// New creates an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Append adds a turn to the sequence. It reports whether the turn was
// accepted: a turn identical to the immediately preceding accepted turn is
// rejected as a duplicate.
func (a *Accumulator) Append(role model.Role, content string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.turns); n > 0 {
		last := a.turns[n-1]
		if last.Role == role && last.Content == content {
			return false
		}
	}
	a.turns = append(a.turns, model.Turn{Role: role, Content: content})
	return true
}

// Len returns the number of accepted turns.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}

// Snapshot returns a point-in-time copy of the accepted turns. Later appends
// do not affect a previously taken snapshot.
func (a *Accumulator) Snapshot() []model.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Flatten renders the current snapshot as the canonical transcript text:
// "ROLE: content" blocks in turn order, separated by blank lines.
func (a *Accumulator) Flatten() string {
	return Flatten(a.Snapshot())
}

// Flatten renders a turn sequence into the canonical transcript text. It is a
// pure function of its input: identical sequences produce identical text.
func Flatten(turns []model.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.ToUpper(string(t.Role)))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}

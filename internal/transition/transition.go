// Package transition is the one place state-machine rules are validated.
// Both the checkout and the order machines declare a Table and route every
// status change through Check, so the legal moves are auditable in one spot.
package transition

import (
	"fmt"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// Table maps a status to its legal next statuses, in declaration order.
type Table[S ~string] map[S][]S

// Can reports whether from -> to is a legal move.
func (t Table[S]) Can(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Allowed returns the legal next statuses from a given status.
func (t Table[S]) Allowed(from S) []S {
	out := make([]S, len(t[from]))
	copy(out, t[from])
	return out
}

// Terminal reports whether a status has no further moves.
func (t Table[S]) Terminal(s S) bool { return len(t[s]) == 0 }

// Check validates from -> to and returns a typed INVALID_TRANSITION error
// naming the entity, its current state and the attempted target.
func (t Table[S]) Check(entity, id string, from, to S) *apperr.Error {
	if t.Can(from, to) {
		return nil
	}
	allowed := make([]string, 0, len(t[from]))
	for _, s := range t[from] {
		allowed = append(allowed, string(s))
	}
	return &apperr.Error{
		Code: apperr.CodeInvalidTransition,
		Message: fmt.Sprintf("%s %s cannot transition from %s to %s",
			entity, id, from, to),
		Entity:   entity,
		EntityID: id,
		Current:  string(from),
		Target:   string(to),
		Allowed:  allowed,
	}
}

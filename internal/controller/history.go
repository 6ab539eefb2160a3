// internal/controller/history.go
package controller

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Sanitizer validates conversation history before it is sent to the model.
// The wire protocol rejects malformed sequences outright, so a history that
// fails validation is discarded rather than repaired piecemeal.
type Sanitizer struct {
	logger *zap.Logger
}

// NewSanitizer builds a history sanitizer.
func NewSanitizer(logger *zap.Logger) *Sanitizer {
	return &Sanitizer{logger: logger.Named("history")}
}

// Sanitize checks the structural invariants of the history:
//
//  1. user turns never mix tool-result parts with prompt parts, and
//  2. the sequence never ends in a model turn holding an unanswered
//     tool call.
//
// Any violation resets the history to empty; the run then continues from a
// fresh observation instead of a corrupt transcript.
func (s *Sanitizer) Sanitize(history []schemas.Turn) []schemas.Turn {
	for i, turn := range history {
		if turn.Role == schemas.RoleUser && turn.HasToolResults() && turn.HasPromptParts() {
			s.logger.Warn("History user turn mixes tool results with prompt parts, resetting",
				zap.Int("turn", i))
			return []schemas.Turn{}
		}
	}

	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == schemas.RoleModel && last.HasToolCalls() {
			s.logger.Warn("History ends in an unanswered tool call, resetting")
			return []schemas.Turn{}
		}
	}

	return history
}

// PruneDanglingToolCalls strips trailing model turns whose tool calls never
// received a result turn. Used on cancellation so the retained history stays
// valid for the next run. Idempotent.
func (s *Sanitizer) PruneDanglingToolCalls(history []schemas.Turn) []schemas.Turn {
	for len(history) > 0 {
		last := history[len(history)-1]
		if last.Role != schemas.RoleModel || !last.HasToolCalls() {
			break
		}
		s.logger.Debug("Pruning dangling tool call turn")
		history = history[:len(history)-1]
	}
	return history
}

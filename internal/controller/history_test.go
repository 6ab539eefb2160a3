// internal/controller/history_test.go
package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func userTextTurn(text string) schemas.Turn {
	return schemas.Turn{Role: schemas.RoleUser, Parts: []schemas.Part{schemas.TextPart(text)}}
}

func modelCallTurn(name string) schemas.Turn {
	return schemas.Turn{Role: schemas.RoleModel, Parts: []schemas.Part{
		{ToolCall: &schemas.ToolCall{Name: name, Args: map[string]any{}}},
	}}
}

func userResultTurn(name string) schemas.Turn {
	return schemas.Turn{Role: schemas.RoleUser, Parts: []schemas.Part{
		{ToolResult: &schemas.ToolResult{Name: name, Response: map[string]any{"ok": true}}},
	}}
}

func TestSanitize_ValidHistoryPassesThrough(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	history := []schemas.Turn{
		userTextTurn("do the thing"),
		modelCallTurn("click_at"),
		userResultTurn("click_at"),
		{Role: schemas.RoleModel, Parts: []schemas.Part{schemas.TextPart("done")}},
	}

	assert.Equal(t, history, s.Sanitize(history))
}

func TestSanitize_MixedUserTurnResets(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	history := []schemas.Turn{
		userTextTurn("do the thing"),
		modelCallTurn("click_at"),
		{Role: schemas.RoleUser, Parts: []schemas.Part{
			{ToolResult: &schemas.ToolResult{Name: "click_at", Response: map[string]any{"ok": true}}},
			schemas.TextPart("also, please hurry"),
		}},
	}

	assert.Empty(t, s.Sanitize(history))
}

func TestSanitize_UnansweredToolCallResets(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	history := []schemas.Turn{
		userTextTurn("do the thing"),
		modelCallTurn("click_at"),
	}

	assert.Empty(t, s.Sanitize(history))
}

func TestSanitize_EmptyHistory(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	assert.Empty(t, s.Sanitize(nil))
}

func TestPruneDanglingToolCalls(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	history := []schemas.Turn{
		userTextTurn("do the thing"),
		modelCallTurn("click_at"),
		userResultTurn("click_at"),
		modelCallTurn("type_text_at"),
	}

	pruned := s.PruneDanglingToolCalls(history)
	assert.Len(t, pruned, 3)

	// Idempotent.
	assert.Equal(t, pruned, s.PruneDanglingToolCalls(pruned))
}

func TestPruneDanglingToolCalls_MultipleTrailing(t *testing.T) {
	s := NewSanitizer(zaptest.NewLogger(t))
	history := []schemas.Turn{
		userTextTurn("go"),
		modelCallTurn("click_at"),
		modelCallTurn("wait"),
	}

	assert.Len(t, s.PruneDanglingToolCalls(history), 1)
}

func TestBuildSystemPrompt(t *testing.T) {
	set := schemas.InstructionSet{
		General: []string{"Dismiss cookie banners first"},
		PerSite: map[string][]string{
			"example.com": {"Use the top search bar"},
			"other.com":   {"Irrelevant here"},
		},
	}

	prompt := buildSystemPrompt(set, "https://shop.example.com/cart", 3, 15)
	assert.Contains(t, prompt, "step 3 of at most 15")
	assert.Contains(t, prompt, "Dismiss cookie banners first")
	assert.Contains(t, prompt, "Use the top search bar")
	assert.NotContains(t, prompt, "Irrelevant here")
}

func TestBuildSystemPrompt_NoInstructions(t *testing.T) {
	prompt := buildSystemPrompt(schemas.InstructionSet{}, "", 1, 15)
	assert.Contains(t, prompt, "browser-operating agent")
	assert.NotContains(t, prompt, "Rules learned")
}

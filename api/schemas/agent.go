// api/schemas/agent.go
package schemas

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Role tags a conversation turn with its author.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Action is a single model-proposed operation against the controlled surface.
// Args hold the raw structured arguments as decoded from the model's tool call.
type Action struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// String returns the action name with its argument keys, for logging.
// Argument values are deliberately omitted; they may contain user text.
func (a Action) String() string {
	keys := make([]string, 0, len(a.Args))
	for k := range a.Args {
		keys = append(keys, k)
	}
	b, _ := json.Marshal(keys)
	return a.Name + string(b)
}

// StringArg extracts a string argument, tolerating absent keys.
func (a Action) StringArg(key string) (string, bool) {
	v, ok := a.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FloatArg extracts a numeric argument. The model emits numbers as JSON
// numbers which decode to float64, but integers arriving as strings are
// tolerated too since some models quote coordinates.
func (a Action) FloatArg(key string) (float64, bool) {
	v, ok := a.Args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if err := json.UnmarshalFromString(n, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// BoolArg extracts a boolean argument.
func (a Action) BoolArg(key string) (bool, bool) {
	v, ok := a.Args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ActionResult is the executed outcome of one Action. OK=false carries a
// structured error string instead of a Go error so results can round-trip
// through the model as tool responses.
type ActionResult struct {
	OK         bool           `json:"ok"`
	Response   map[string]any `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
	SurfaceURL string         `json:"surface_url"`
}

// ExecutedAction is the action-log entry kept on a Run.
type ExecutedAction struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	SurfaceURL string         `json:"surface_url"`
}

// Part is one element of a conversation turn. Exactly one of the pointer
// fields is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	Image      *Image      `json:"image,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Image is an inline screenshot attached to a turn.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ToolCall is a model-issued action request.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult pairs an executed action's outcome with its originating call.
type ToolResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
	Image    *Image         `json:"image,omitempty"`
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextPart builds a text-only part.
func TextPart(text string) Part { return Part{Text: text} }

// ImagePart builds an inline-image part.
func ImagePart(mime string, data []byte) Part {
	return Part{Image: &Image{MIMEType: mime, Data: data}}
}

// HasToolCalls reports whether any part of the turn is a tool invocation.
func (t Turn) HasToolCalls() bool {
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			return true
		}
	}
	return false
}

// HasToolResults reports whether any part of the turn is a tool result.
func (t Turn) HasToolResults() bool {
	for _, p := range t.Parts {
		if p.ToolResult != nil {
			return true
		}
	}
	return false
}

// HasPromptParts reports whether the turn carries user prompt content
// (text or image outside a tool result).
func (t Turn) HasPromptParts() bool {
	for _, p := range t.Parts {
		if p.Text != "" || p.Image != nil {
			return true
		}
	}
	return false
}

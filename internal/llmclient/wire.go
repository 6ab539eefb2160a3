// internal/llmclient/wire.go
package llmclient

import (
	"encoding/base64"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// -- Gemini API Request/Response Structures (Internal to this package) --

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *GeminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

type GeminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type GeminiSystemInstruction struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature     float64               `json:"temperature"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *GeminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type GeminiRequestPayload struct {
	Contents          []GeminiContent          `json:"contents"`
	SystemInstruction *GeminiSystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool             `json:"tools,omitempty"`
	GenerationConfig  GeminiGenerationConfig   `json:"generationConfig"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiResponsePayload struct {
	Candidates    []GeminiCandidate   `json:"candidates"`
	UsageMetadata GeminiUsageMetadata `json:"usageMetadata"`
}

// encodeHistory converts neutral conversation turns into the Gemini wire
// shape. Screenshots travel as base64 inline data.
func encodeHistory(history []schemas.Turn) []GeminiContent {
	contents := make([]GeminiContent, 0, len(history))
	for _, turn := range history {
		content := GeminiContent{Role: string(turn.Role)}
		for _, part := range turn.Parts {
			switch {
			case part.ToolCall != nil:
				content.Parts = append(content.Parts, GeminiPart{
					FunctionCall: &GeminiFunctionCall{
						Name: part.ToolCall.Name,
						Args: part.ToolCall.Args,
					},
				})
			case part.ToolResult != nil:
				content.Parts = append(content.Parts, GeminiPart{
					FunctionResponse: &GeminiFunctionResponse{
						Name:     part.ToolResult.Name,
						Response: part.ToolResult.Response,
					},
				})
				if img := part.ToolResult.Image; img != nil {
					content.Parts = append(content.Parts, inlinePart(img))
				}
			case part.Image != nil:
				content.Parts = append(content.Parts, inlinePart(part.Image))
			case part.Text != "":
				content.Parts = append(content.Parts, GeminiPart{Text: part.Text})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

func inlinePart(img *schemas.Image) GeminiPart {
	return GeminiPart{
		InlineData: &GeminiInlineData{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		},
	}
}

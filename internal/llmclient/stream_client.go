// internal/llmclient/stream_client.go
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// EventType tags one element of a streamed decision.
type EventType string

const (
	// EventReasoningDelta is an incremental chunk of the model's visible
	// thinking. It feeds the navigation log, never the transcript.
	EventReasoningDelta EventType = "reasoning"

	// EventTextDelta is an incremental chunk of the model's answer text.
	EventTextDelta EventType = "text"

	// EventToolCall is one complete proposed action. Tool calls are never
	// fragmented across events.
	EventToolCall EventType = "tool_call"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Event is one element of a streamed model decision.
type Event struct {
	Type EventType
	Text string
	Call *schemas.ToolCall

	// FinishReason is set on Done events.
	FinishReason string
	Err          error
}

// DecisionRequest carries everything the model needs for one step decision.
type DecisionRequest struct {
	SystemPrompt string
	History      []schemas.Turn
}

// StreamClient streams step decisions from the Gemini API over SSE.
type StreamClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig
}

const (
	sseInitialBufferSize = 64 * 1024
	sseMaxBufferSize     = 1024 * 1024

	connectMaxElapsed  = 2 * time.Minute
	connectMaxInterval = 30 * time.Second
)

// NewStreamClient initializes the client.
func NewStreamClient(cfg config.LLMConfig, logger *zap.Logger) (*StreamClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(
			"https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse",
			cfg.Model,
		)
	}

	return &StreamClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// StreamDecision opens a streamed generation and returns a channel of
// events. The channel always terminates with exactly one Done or Error
// event and is then closed. Cancelling ctx aborts the stream.
func (c *StreamClient) StreamDecision(ctx context.Context, req DecisionRequest) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		body, err := json.Marshal(c.buildRequestPayload(req))
		if err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("failed to marshal request payload: %w", err)}
			return
		}

		resp, err := c.connect(ctx, body)
		if err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}
		defer resp.Body.Close()

		c.consumeStream(ctx, resp.Body, events)
	}()

	return events
}

// connect establishes the SSE response with retries. Transient statuses
// are retried with exponential backoff; everything else fails immediately.
func (c *StreamClient) connect(ctx context.Context, body []byte) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectMaxElapsed
	b.MaxInterval = connectMaxInterval

	var resp *http.Response
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		r, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}

		if r.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(r.Body)
			r.Body.Close()
			return c.handleAPIError(r.StatusCode, respBody)
		}

		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// consumeStream parses SSE frames into events. Once streaming has begun
// there is no retry; a broken stream surfaces as an Error event.
func (c *StreamClient) consumeStream(ctx context.Context, body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, sseInitialBufferSize), sseMaxBufferSize)

	startTime := time.Now()
	var usage GeminiUsageMetadata
	finishReason := ""
	toolCalls := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk GeminiResponsePayload
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("Skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if chunk.UsageMetadata.TotalTokenCount > 0 {
			usage = chunk.UsageMetadata
		}

		for _, cand := range chunk.Candidates {
			if cand.FinishReason != "" {
				finishReason = cand.FinishReason
			}
			for _, part := range cand.Content.Parts {
				ev, ok := eventFromPart(part)
				if !ok {
					continue
				}
				if ev.Type == EventToolCall {
					toolCalls++
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					// Best effort; an abandoned consumer must not leak
					// this goroutine.
					select {
					case events <- Event{Type: EventError, Err: ctx.Err()}:
					default:
					}
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- Event{Type: EventError, Err: fmt.Errorf("stream interrupted: %w", err)}
		return
	}

	if finishReason == "SAFETY" || finishReason == "BLOCKLIST" {
		events <- Event{Type: EventError, Err: fmt.Errorf("gemini API blocked the request (Reason: %s)", finishReason)}
		return
	}

	c.logger.Info("LLM decision stream complete",
		zap.Duration("duration", time.Since(startTime)),
		zap.String("finish_reason", finishReason),
		zap.Int("tool_calls", toolCalls),
		zap.Int("prompt_tokens", usage.PromptTokenCount),
		zap.Int("completion_tokens", usage.CandidatesTokenCount),
	)
	events <- Event{Type: EventDone, FinishReason: finishReason}
}

// eventFromPart converts one wire part into a stream event.
func eventFromPart(part GeminiPart) (Event, bool) {
	switch {
	case part.FunctionCall != nil:
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return Event{
			Type: EventToolCall,
			Call: &schemas.ToolCall{Name: part.FunctionCall.Name, Args: args},
		}, true
	case part.Thought && part.Text != "":
		return Event{Type: EventReasoningDelta, Text: part.Text}, true
	case part.Text != "":
		return Event{Type: EventTextDelta, Text: part.Text}, true
	default:
		return Event{}, false
	}
}

func (c *StreamClient) buildRequestPayload(req DecisionRequest) GeminiRequestPayload {
	payload := GeminiRequestPayload{
		Contents: encodeHistory(req.History),
		Tools:    []GeminiTool{{FunctionDeclarations: actionDeclarations()}},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxTokens,
			ThinkingConfig:  &GeminiThinkingConfig{IncludeThoughts: true},
		},
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &GeminiSystemInstruction{
			Parts: []GeminiPart{{Text: req.SystemPrompt}},
		}
	}
	return payload
}

func (c *StreamClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// internal/learner/learner.go
package learner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

const learnerSystemPrompt = `You review transcripts of a browser-operating agent and distill durable
behavioral rules that would improve future runs. Output strict JSON with two
fields: "general" (rules that apply on any site) and "perSite" (rules keyed
by bare domain, e.g. "example.com"). Rules must be short imperative
sentences. Output only rules clearly supported by the transcript; when in
doubt, output nothing. Respond with JSON only.`

// historyTailLimit bounds how much conversation text travels to the
// learner model.
const historyTailLimit = 40

// instructionDelta is the model's two-field response schema.
type instructionDelta struct {
	General []string            `json:"general"`
	PerSite map[string][]string `json:"perSite"`
}

// Learner distills finished run transcripts into instruction-store rules.
// Everything it does is best-effort: failures are logged and swallowed so
// the run outcome is never affected.
type Learner struct {
	client  *genai.Client
	model   string
	store   *Store
	logger  *zap.Logger
	limiter *rate.Limiter

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// New builds a Learner backed by the Gemini API.
func New(ctx context.Context, cfg config.LearnerConfig, apiKey string, store *Store, logger *zap.Logger) (*Learner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("learner requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	perMinute := cfg.MaxPerMinute
	if perMinute <= 0 {
		perMinute = 2
	}

	return &Learner{
		client:  client,
		model:   cfg.Model,
		store:   store,
		logger:  logger.Named("learner"),
		limiter: rate.NewLimiter(rate.Limit(perMinute/60.0), 1),
	}, nil
}

// LearnAsync runs Learn on a detached goroutine. The controller fires this
// after a completed run and never waits on it.
func (l *Learner) LearnAsync(ctx context.Context, transcript schemas.RunTranscript) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Learn(ctx, transcript)
	}()
}

// Wait blocks until all in-flight learn invocations finish.
func (l *Learner) Wait() {
	l.wg.Wait()
}

// InFlight reports the number of currently running learn invocations.
func (l *Learner) InFlight() int64 {
	return l.inFlight.Load()
}

// Learn distills one transcript and merges the result into the store.
// Never returns an error; all failure modes are terminal for this
// invocation only.
func (l *Learner) Learn(ctx context.Context, transcript schemas.RunTranscript) {
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	logger := l.logger.With(zap.String("run_id", transcript.RunID))

	if !l.limiter.Allow() {
		logger.Debug("Skipping learn invocation, rate limited")
		return
	}

	delta, err := l.distill(ctx, transcript)
	if err != nil {
		logger.Warn("Learn invocation failed", zap.Error(err))
		return
	}
	if delta.Empty() {
		logger.Debug("Learn invocation produced no rules")
		return
	}

	version := l.store.Merge(delta)
	logger.Info("Merged learned instructions",
		zap.Int("general", len(delta.General)),
		zap.Int("sites", len(delta.PerSite)),
		zap.Int64("store_version", version))
}

// distill asks the model for an instruction delta in strict JSON mode.
func (l *Learner) distill(ctx context.Context, transcript schemas.RunTranscript) (schemas.InstructionSet, error) {
	start := time.Now()

	resp, err := l.client.Models.GenerateContent(ctx, l.model,
		genai.Text(buildLearnPrompt(transcript)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(learnerSystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.1),
		})
	if err != nil {
		return schemas.InstructionSet{}, fmt.Errorf("generation failed: %w", err)
	}

	delta, err := llmutil.ParseJSONResponse[instructionDelta](resp.Text())
	if err != nil {
		return schemas.InstructionSet{}, fmt.Errorf("failed to parse instruction delta: %w", err)
	}

	// Per-site keys from the model are re-normalized; it occasionally emits
	// full URLs despite the schema.
	normalized := make(map[string][]string, len(delta.PerSite))
	for site, rules := range delta.PerSite {
		key := site
		if strings.Contains(site, "://") {
			key = SiteKey(site)
		}
		key = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), "www.")
		if key == "" {
			continue
		}
		normalized[key] = rules
	}

	l.logger.Debug("Distilled transcript",
		zap.Duration("duration", time.Since(start)),
		zap.Int("general", len(delta.General)),
		zap.Int("sites", len(normalized)))

	return schemas.InstructionSet{General: delta.General, PerSite: normalized}, nil
}

// buildLearnPrompt renders the text-only transcript digest. Screenshots
// never reach the learner.
func buildLearnPrompt(t schemas.RunTranscript) string {
	var sb strings.Builder

	sb.WriteString("Task given to the agent:\n")
	sb.WriteString(t.UserPrompt)
	sb.WriteString("\n\n")

	tail := t.HistoryTail
	if len(tail) > historyTailLimit {
		tail = tail[len(tail)-historyTailLimit:]
	}
	if len(tail) > 0 {
		sb.WriteString("Conversation tail:\n")
		for _, line := range tail {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	if t.NavigationLog != "" {
		sb.WriteString("Navigation log:\n")
		sb.WriteString(t.NavigationLog)
		sb.WriteString("\n\n")
	}

	if len(t.Actions) > 0 {
		sb.WriteString("Actions taken:\n")
		for _, a := range t.Actions {
			sb.WriteString("- ")
			sb.WriteString(a.Name)
			if a.SurfaceURL != "" {
				sb.WriteString(" on ")
				sb.WriteString(a.SurfaceURL)
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Final answer:\n")
	sb.WriteString(t.FinalText)
	return sb.String()
}

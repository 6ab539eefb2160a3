// internal/controller/controller.go
package controller

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/navlog"
	"github.com/xkilldash9x/webpilot/internal/overlay"
)

// State is the controller's observable lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateStepping    State = "stepping"
	StateToolCalling State = "tool_calling"
	StateFinishing   State = "finishing"
	StateCancelling  State = "cancelling"
)

// DecisionStreamer streams one model step decision as tagged events.
type DecisionStreamer interface {
	StreamDecision(ctx context.Context, req llmclient.DecisionRequest) <-chan llmclient.Event
}

// ActionExecutor executes model-proposed actions against the surface.
type ActionExecutor interface {
	Execute(ctx context.Context, action schemas.Action) schemas.ActionResult
	SetFrame(t schemas.FrameTransform)
}

// FrameSource produces stabilized screenshots.
type FrameSource interface {
	CaptureStableFrame(ctx context.Context) (*schemas.Frame, error)
}

// InstructionSource snapshots the learned instruction set.
type InstructionSource interface {
	Snapshot() (schemas.InstructionSet, int64)
}

// TranscriptLearner consumes finished run transcripts asynchronously.
type TranscriptLearner interface {
	LearnAsync(ctx context.Context, transcript schemas.RunTranscript)
}

// Deps wires the controller's collaborators. Instructions, Learner and Bus
// are optional; a nil value disables the corresponding feature.
type Deps struct {
	Streamer     DecisionStreamer
	Executor     ActionExecutor
	Frames       FrameSource
	Instructions InstructionSource
	Learner      TranscriptLearner
	Bus          *overlay.Bus
	Config       config.AgentConfig
	Logger       *zap.Logger
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID     string
	FinalText string
	Steps     int
	Actions   []schemas.ExecutedAction
	Cancelled bool
}

// Controller owns the observe-decide-execute loop. A single run holds the
// controller at a time; a newly submitted task cancels the active run and
// takes its place. Conversation history is retained across runs so a
// follow-up prompt continues the same session.
type Controller struct {
	streamer     DecisionStreamer
	executor     ActionExecutor
	frames       FrameSource
	instructions InstructionSource
	learner      TranscriptLearner
	bus          *overlay.Bus
	sanitizer    *Sanitizer
	logger       *zap.Logger
	cfg          config.AgentConfig

	sem *semaphore.Weighted

	mu        sync.Mutex
	state     State
	history   []schemas.Turn
	cancelRun context.CancelFunc
}

// New builds a Controller.
func New(deps Deps) *Controller {
	return &Controller{
		streamer:     deps.Streamer,
		executor:     deps.Executor,
		frames:       deps.Frames,
		instructions: deps.Instructions,
		learner:      deps.Learner,
		bus:          deps.Bus,
		sanitizer:    NewSanitizer(deps.Logger),
		logger:       deps.Logger.Named("controller"),
		cfg:          deps.Config,
		sem:          semaphore.NewWeighted(1),
		state:        StateIdle,
	}
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// maxSteps applies the hard ceiling to the configured step budget.
func (c *Controller) maxSteps() int {
	n := c.cfg.MaxSteps
	if n <= 0 || n > config.MaxStepsCeiling {
		n = config.MaxStepsCeiling
	}
	return n
}

// Run executes one task until the model stops calling tools, the step
// budget runs out, or ctx is cancelled. Cancellation is a normal outcome,
// not an error. Submitting a new task while one is active cancels the
// in-flight run first; the new task starts once the old one has wound down.
func (c *Controller) Run(ctx context.Context, prompt string) (*RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.sem.TryAcquire(1) {
		c.logger.Info("New task preempts the active run")
		c.cancelActiveRun()
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to take over from the active run: %w", err)
		}
	}
	defer c.sem.Release(1)
	defer c.setState(StateIdle)

	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelRun = nil
		c.mu.Unlock()
	}()

	runID := uuid.New().String()
	logger := c.logger.With(zap.String("run_id", runID))
	em := overlay.NewEmitter(c.bus, runID)
	em.Start(prompt)

	logger.Info("Starting run", zap.Int("max_steps", c.maxSteps()))
	c.setState(StateStepping)

	run := &runState{
		result:  &RunResult{RunID: runID},
		prompt:  prompt,
		emitter: em,
		logger:  logger,
	}

	frame, err := c.frames.CaptureStableFrame(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			return c.finishCancelled(run), nil
		}
		em.End("Could not observe the page.")
		return nil, fmt.Errorf("failed to capture initial frame: %w", err)
	}
	c.executor.SetFrame(frame.Transform)

	c.mu.Lock()
	c.history = append(c.history, schemas.Turn{
		Role: schemas.RoleUser,
		Parts: []schemas.Part{
			schemas.TextPart(prompt),
			schemas.ImagePart("image/png", frame.PNG),
		},
	})
	c.mu.Unlock()

	for step := 1; step <= c.maxSteps(); step++ {
		if runCtx.Err() != nil {
			return c.finishCancelled(run), nil
		}
		run.result.Steps = step

		done, err := c.runStep(runCtx, step, run)
		if err != nil {
			if runCtx.Err() != nil {
				return c.finishCancelled(run), nil
			}
			em.End("The run failed: " + err.Error())
			return run.result, err
		}
		if done {
			return c.finish(runCtx, run), nil
		}
	}

	run.finalText = "Step budget exhausted before the task completed."
	logger.Warn("Run hit the step budget")
	return c.finish(runCtx, run), nil
}

// cancelActiveRun aborts the in-flight run, if any. Safe to call at any
// time; a stale cancel func is a no-op.
func (c *Controller) cancelActiveRun() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runStep bounds one decision plus its tool batch with the configured step
// timeout. Expiry is a terminal failure for the run, not a cancellation.
func (c *Controller) runStep(runCtx context.Context, step int, run *runState) (bool, error) {
	stepCtx := runCtx
	cancelStep := func() {}
	if c.cfg.StepTimeout > 0 {
		stepCtx, cancelStep = context.WithTimeout(runCtx, c.cfg.StepTimeout)
	}
	defer cancelStep()

	done, err := c.step(stepCtx, step, run)
	if err != nil && runCtx.Err() == nil && stepCtx.Err() != nil {
		return false, fmt.Errorf("step %d exceeded the %s step timeout: %w", step, c.cfg.StepTimeout, err)
	}
	return done, err
}

// runState is the per-run mutable bookkeeping shared across steps.
type runState struct {
	result    *RunResult
	prompt    string
	emitter   *overlay.Emitter
	logger    *zap.Logger
	finalText string
	navCarry  string
	navLines  []string
	lastURL   string
}

// step runs one decision plus its tool batch. done=true means the model
// finished without calling tools.
func (c *Controller) step(ctx context.Context, step int, run *runState) (bool, error) {
	c.setState(StateStepping)

	c.mu.Lock()
	c.history = c.sanitizer.Sanitize(c.history)
	if len(c.history) == 0 {
		// History was reset; re-seed from a fresh observation.
		c.mu.Unlock()
		frame, err := c.frames.CaptureStableFrame(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to re-seed history: %w", err)
		}
		c.executor.SetFrame(frame.Transform)
		c.mu.Lock()
		c.history = append(c.history, schemas.Turn{
			Role: schemas.RoleUser,
			Parts: []schemas.Part{
				schemas.TextPart(run.prompt),
				schemas.ImagePart("image/png", frame.PNG),
			},
		})
	}
	history := append([]schemas.Turn(nil), c.history...)
	c.mu.Unlock()

	var set schemas.InstructionSet
	if c.instructions != nil {
		set, _ = c.instructions.Snapshot()
	}

	req := llmclient.DecisionRequest{
		SystemPrompt: buildSystemPrompt(set, run.lastURL, step, c.maxSteps()),
		History:      history,
	}

	var (
		stepText strings.Builder
		calls    []schemas.ToolCall
	)
	for ev := range c.streamer.StreamDecision(ctx, req) {
		switch ev.Type {
		case llmclient.EventReasoningDelta:
			c.relayNavigation(run, ev.Text)
		case llmclient.EventTextDelta:
			stepText.WriteString(ev.Text)
		case llmclient.EventToolCall:
			calls = append(calls, *ev.Call)
		case llmclient.EventDone:
		case llmclient.EventError:
			return false, fmt.Errorf("decision stream failed: %w", ev.Err)
		}
	}

	if len(calls) == 0 {
		run.finalText = strings.TrimSpace(stepText.String())
		if run.finalText != "" {
			// Keep the final answer in history so a follow-up prompt
			// continues the session.
			c.mu.Lock()
			c.history = append(c.history, schemas.Turn{
				Role:  schemas.RoleModel,
				Parts: []schemas.Part{schemas.TextPart(run.finalText)},
			})
			c.mu.Unlock()
		}
		return true, nil
	}

	modelTurn := schemas.Turn{Role: schemas.RoleModel}
	if text := strings.TrimSpace(stepText.String()); text != "" {
		modelTurn.Parts = append(modelTurn.Parts, schemas.TextPart(text))
	}
	for i := range calls {
		modelTurn.Parts = append(modelTurn.Parts, schemas.Part{ToolCall: &calls[i]})
	}
	c.mu.Lock()
	c.history = append(c.history, modelTurn)
	c.mu.Unlock()

	return false, c.executeBatch(ctx, calls, run)
}

// executeBatch runs the step's tool calls sequentially, captures one fresh
// frame, and appends a single user turn carrying every result plus the
// screenshot.
func (c *Controller) executeBatch(ctx context.Context, calls []schemas.ToolCall, run *runState) error {
	c.setState(StateToolCalling)

	results := make([]schemas.Part, 0, len(calls))
	for _, call := range calls {
		action := schemas.Action{Name: call.Name, Args: call.Args}
		c.emitActionOverlay(run, action)
		run.logger.Debug("Executing tool call", zap.String("action", action.String()))

		res := c.executor.Execute(ctx, action)
		if res.SurfaceURL != "" {
			run.lastURL = res.SurfaceURL
		}
		if !res.OK {
			run.logger.Info("Action failed",
				zap.String("action", call.Name), zap.String("error", res.Error))
		}

		run.result.Actions = append(run.result.Actions, schemas.ExecutedAction{
			Name:       call.Name,
			Args:       call.Args,
			SurfaceURL: res.SurfaceURL,
		})
		results = append(results, schemas.Part{
			ToolResult: &schemas.ToolResult{
				Name:     call.Name,
				Response: resultResponse(res),
			},
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	run.emitter.ClearHighlight()

	frame, err := c.frames.CaptureStableFrame(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture frame after tool batch: %w", err)
	}
	c.executor.SetFrame(frame.Transform)
	results[len(results)-1].ToolResult.Image = &schemas.Image{
		MIMEType: "image/png",
		Data:     frame.PNG,
	}

	c.mu.Lock()
	c.history = append(c.history, schemas.Turn{Role: schemas.RoleUser, Parts: results})
	c.mu.Unlock()
	return nil
}

// resultResponse flattens an ActionResult into the tool response payload.
func resultResponse(res schemas.ActionResult) map[string]any {
	out := map[string]any{"ok": res.OK}
	for k, v := range res.Response {
		out[k] = v
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	if res.SurfaceURL != "" {
		out["url"] = res.SurfaceURL
	}
	return out
}

// relayNavigation feeds reasoning text through the navigation log parser
// and publishes the resulting human-readable lines.
func (c *Controller) relayNavigation(run *runState, raw string) {
	parsed := navlog.ParseDelta(raw, run.navCarry)
	run.navCarry = parsed.Next
	for _, line := range parsed.Lines {
		run.navLines = append(run.navLines, line)
		run.emitter.Log(line)
	}
}

// emitActionOverlay mirrors the action on the visual overlay: pointer
// position for coordinate actions, text caret for typing, a rectangle
// spanning source and destination for drags.
func (c *Controller) emitActionOverlay(run *runState, action schemas.Action) {
	nx, okX := action.FloatArg("x")
	ny, okY := action.FloatArg("y")
	if !okX || !okY {
		return
	}
	nx, ny = foldThousandths(nx), foldThousandths(ny)

	if action.Name == "drag_and_drop" {
		dx, okDX := action.FloatArg("destination_x")
		dy, okDY := action.FloatArg("destination_y")
		if okDX && okDY {
			dx, dy = foldThousandths(dx), foldThousandths(dy)
			run.emitter.Pointer(nx, ny, schemas.PointerModePointer)
			run.emitter.Highlight(schemas.Rect{
				X: math.Min(nx, dx),
				Y: math.Min(ny, dy),
				W: math.Abs(dx - nx),
				H: math.Abs(dy - ny),
			})
			return
		}
	}

	mode := schemas.PointerModePointer
	if action.Name == "type_text_at" {
		mode = schemas.PointerModeText
	}
	run.emitter.Pointer(nx, ny, mode)
	run.emitter.HighlightPoint(nx, ny)
}

// foldThousandths maps a thousandths-range coordinate into the 0..1 range
// the overlay consumes.
func foldThousandths(n float64) float64 {
	if n > 1.5 {
		return n / 1000
	}
	return n
}

// finish completes a successful run: emits the final overlay event and
// hands the transcript to the learner.
func (c *Controller) finish(ctx context.Context, run *runState) *RunResult {
	c.setState(StateFinishing)

	if run.finalText == "" {
		run.finalText = "Done."
	}
	run.result.FinalText = run.finalText
	run.emitter.End(run.finalText)
	run.logger.Info("Run finished",
		zap.Int("steps", run.result.Steps),
		zap.Int("actions", len(run.result.Actions)))

	if c.learner != nil {
		// Detached from the run's ctx; learning outlives the run.
		c.learner.LearnAsync(context.Background(), c.buildTranscript(run))
	}
	return run.result
}

// finishCancelled treats cancellation as a clean outcome: dangling tool
// calls are pruned so the retained history stays valid.
func (c *Controller) finishCancelled(run *runState) *RunResult {
	c.setState(StateCancelling)
	run.logger.Info("Run cancelled", zap.Int("steps", run.result.Steps))

	c.mu.Lock()
	c.history = c.sanitizer.PruneDanglingToolCalls(c.history)
	c.mu.Unlock()

	run.result.Cancelled = true
	run.result.FinalText = run.finalText
	run.emitter.End("Cancelled.")
	return run.result
}

// buildTranscript renders the text-only digest for the learner.
func (c *Controller) buildTranscript(run *runState) schemas.RunTranscript {
	c.mu.Lock()
	history := append([]schemas.Turn(nil), c.history...)
	c.mu.Unlock()

	var tail []string
	for _, turn := range history {
		for _, part := range turn.Parts {
			switch {
			case part.ToolCall != nil:
				tail = append(tail, fmt.Sprintf("%s: tool %s", turn.Role, part.ToolCall.Name))
			case part.ToolResult != nil:
				ok := part.ToolResult.Response["ok"] == true
				tail = append(tail, fmt.Sprintf("%s: result %s ok=%t", turn.Role, part.ToolResult.Name, ok))
			case part.Text != "":
				tail = append(tail, fmt.Sprintf("%s: %s", turn.Role, part.Text))
			}
		}
	}

	return schemas.RunTranscript{
		RunID:         run.result.RunID,
		UserPrompt:    run.prompt,
		HistoryTail:   tail,
		NavigationLog: strings.Join(run.navLines, "\n"),
		Actions:       run.result.Actions,
		FinalText:     run.result.FinalText,
	}
}

// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/coords"
)

// Sentinel errors surfaced inside structured action results.
var (
	ErrNoURL             = errors.New("navigate requires a url argument")
	ErrPageChanged       = errors.New("page changed since last screenshot")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrMissingCoordinate = errors.New("action requires x and y coordinates")
)

const (
	// maxWaitSeconds bounds wait-class actions to prevent runaway loops.
	maxWaitSeconds = 60

	// documentScrollFraction sizes whole-document wheel ticks relative to
	// the viewport.
	documentScrollFraction = 0.7

	// defaultScrollMagnitude is used when scroll_at gives no magnitude.
	defaultScrollMagnitude = 300

	// dragMoveSteps is the number of interpolated pointer moves between
	// drag source and destination.
	dragMoveSteps = 8

	readinessPollInterval = 50 * time.Millisecond
)

// DriftSource measures the perceptual difference between the surface's
// current visual state and the last stabilized frame.
type DriftSource interface {
	Drift(ctx context.Context) (float64, error)
}

// searchURL builds the query URL used by the search action.
func searchURL(query string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}

// Executor maps abstract model-proposed actions onto primitive input
// operations against the controlled surface. All branches return the
// post-action surface URL so the controller can detect navigation.
type Executor struct {
	surface surface.Surface
	mapper  *coords.Mapper
	drift   DriftSource
	logger  *zap.Logger

	readinessTimeout time.Duration
	readinessSettle  time.Duration
	driftThreshold   float64

	mu            sync.Mutex
	lastTransform schemas.FrameTransform
	hasFrame      bool

	// wheelSign corrects wheel delta direction for the host platform.
	wheelSign float64
}

// New builds an Executor over the given surface.
func New(s surface.Surface, mapper *coords.Mapper, drift DriftSource, cfg config.AgentConfig, logger *zap.Logger) *Executor {
	return &Executor{
		surface:          s,
		mapper:           mapper,
		drift:            drift,
		logger:           logger.Named("executor"),
		readinessTimeout: cfg.ReadinessTimeout,
		readinessSettle:  cfg.ReadinessSettle,
		driftThreshold:   cfg.DriftThreshold,
		wheelSign:        platformWheelSign(runtime.GOOS),
	}
}

// platformWheelSign returns the multiplier that converts DOM-convention
// wheel deltas (positive = scroll down) into the host platform's convention.
// macOS with natural scrolling inverts the axis.
func platformWheelSign(goos string) float64 {
	if goos == "darwin" {
		return -1
	}
	return 1
}

// SetFrame records the transform of the most recent stabilized Frame.
// Coordinates of subsequent actions are interpreted against it.
func (e *Executor) SetFrame(t schemas.FrameTransform) {
	e.mu.Lock()
	e.lastTransform = t
	e.hasFrame = true
	e.mu.Unlock()
}

// Execute runs a single action. It never panics and never returns a Go
// error; failures come back as structured results.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) schemas.ActionResult {
	e.logger.Debug("Executing action", zap.String("action", action.Name))

	var res schemas.ActionResult
	switch action.Name {
	case "navigate":
		res = e.executeNavigate(ctx, action)
	case "open_page":
		res = e.executeNavigate(ctx, action)
	case "go_back":
		res = e.resultFromErr(ctx, e.surface.GoBack(ctx))
	case "go_forward":
		res = e.resultFromErr(ctx, e.surface.GoForward(ctx))
	case "search":
		res = e.executeSearch(ctx, action)
	case "click_at":
		res = e.executePointer(ctx, action, true)
	case "hover_at":
		res = e.executePointer(ctx, action, false)
	case "type_text_at":
		res = e.executeType(ctx, action)
	case "scroll_document":
		res = e.executeScrollDocument(ctx, action)
	case "scroll_at":
		res = e.executeScrollAt(ctx, action)
	case "drag_and_drop":
		res = e.executeDrag(ctx, action)
	case "key_combination":
		res = e.executeKeyCombination(ctx, action)
	case "wait":
		res = e.executeWait(ctx, action)
	case "wait_5_seconds":
		res = e.delay(ctx, 5*time.Second)
	default:
		e.logger.Warn("Unsupported action requested", zap.String("action", action.Name))
		res = schemas.ActionResult{OK: false, Error: ErrUnsupportedAction.Error()}
	}

	res.SurfaceURL = e.currentURL(ctx)
	return res
}

func (e *Executor) executeNavigate(ctx context.Context, action schemas.Action) schemas.ActionResult {
	target, ok := action.StringArg("url")
	if !ok || target == "" {
		return schemas.ActionResult{OK: false, Error: ErrNoURL.Error()}
	}
	if err := e.surface.Navigate(ctx, target); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("navigation failed: %v", err)}
	}
	return schemas.ActionResult{OK: true, Response: map[string]any{"url": target}}
}

func (e *Executor) executeSearch(ctx context.Context, action schemas.Action) schemas.ActionResult {
	query, ok := action.StringArg("query")
	if !ok || query == "" {
		return schemas.ActionResult{OK: false, Error: "search requires a query argument"}
	}
	if err := e.surface.Navigate(ctx, searchURL(query)); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("navigation failed: %v", err)}
	}
	return schemas.ActionResult{OK: true, Response: map[string]any{"query": query}}
}

func (e *Executor) executePointer(ctx context.Context, action schemas.Action, click bool) schemas.ActionResult {
	x, y, res := e.resolvePoint(ctx, action, "x", "y")
	if res != nil {
		return *res
	}
	if res := e.prepareForPointer(ctx); res != nil {
		return *res
	}

	events := []surface.PointerEvent{
		{Type: surface.PointerMoved, X: x, Y: y, Button: surface.ButtonNone},
	}
	if click {
		events = append(events,
			surface.PointerEvent{Type: surface.PointerPressed, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 1},
			surface.PointerEvent{Type: surface.PointerReleased, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 1},
		)
	}
	for _, ev := range events {
		if err := e.surface.InjectPointerEvent(ctx, ev); err != nil {
			return schemas.ActionResult{OK: false, Error: fmt.Sprintf("pointer dispatch failed: %v", err)}
		}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeType(ctx context.Context, action schemas.Action) schemas.ActionResult {
	text, _ := action.StringArg("text")
	x, y, res := e.resolvePoint(ctx, action, "x", "y")
	if res != nil {
		return *res
	}
	if res := e.prepareForPointer(ctx); res != nil {
		return *res
	}

	// Double-click to enter edit mode; rich editors often require it.
	if err := e.doubleClick(ctx, x, y); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("pointer dispatch failed: %v", err)}
	}

	if clear, _ := action.BoolArg("clear_before_typing"); clear {
		if err := e.selectAllAndDelete(ctx); err != nil {
			return schemas.ActionResult{OK: false, Error: fmt.Sprintf("failed to clear field: %v", err)}
		}
	}

	perChar, _ := action.BoolArg("per_character")
	if perChar {
		for _, r := range text {
			ev := surface.KeyEvent{Type: surface.KeyChar, Key: string(r), Text: string(r)}
			if err := e.surface.InjectKeyEvent(ctx, ev); err != nil {
				return schemas.ActionResult{OK: false, Error: fmt.Sprintf("key dispatch failed: %v", err)}
			}
		}
	} else if text != "" {
		if err := e.surface.InsertText(ctx, text); err != nil {
			return schemas.ActionResult{OK: false, Error: fmt.Sprintf("text insertion failed: %v", err)}
		}
	}

	if pressEnter, _ := action.BoolArg("press_enter"); pressEnter {
		if err := e.tapKey(ctx, "Enter", 0); err != nil {
			return schemas.ActionResult{OK: false, Error: fmt.Sprintf("key dispatch failed: %v", err)}
		}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeScrollDocument(ctx context.Context, action schemas.Action) schemas.ActionResult {
	direction, _ := action.StringArg("direction")
	vp, err := e.surface.Viewport(ctx)
	if err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("failed to measure viewport: %v", err)}
	}

	dx, dy, derr := scrollDelta(direction, vp.Width*documentScrollFraction, vp.Height*documentScrollFraction)
	if derr != nil {
		return schemas.ActionResult{OK: false, Error: derr.Error()}
	}

	ev := surface.WheelEvent{
		X:      vp.Width / 2,
		Y:      vp.Height / 2,
		DeltaX: dx * e.wheelSign,
		DeltaY: dy * e.wheelSign,
	}
	if err := e.surface.InjectWheelEvent(ctx, ev); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("wheel dispatch failed: %v", err)}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeScrollAt(ctx context.Context, action schemas.Action) schemas.ActionResult {
	x, y, res := e.resolvePoint(ctx, action, "x", "y")
	if res != nil {
		return *res
	}

	direction, _ := action.StringArg("direction")
	magnitude, ok := action.FloatArg("magnitude")
	if !ok || magnitude <= 0 {
		magnitude = defaultScrollMagnitude
	}

	dx, dy, derr := scrollDelta(direction, magnitude, magnitude)
	if derr != nil {
		return schemas.ActionResult{OK: false, Error: derr.Error()}
	}

	ev := surface.WheelEvent{X: x, Y: y, DeltaX: dx * e.wheelSign, DeltaY: dy * e.wheelSign}
	if err := e.surface.InjectWheelEvent(ctx, ev); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("wheel dispatch failed: %v", err)}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeDrag(ctx context.Context, action schemas.Action) schemas.ActionResult {
	x, y, res := e.resolvePoint(ctx, action, "x", "y")
	if res != nil {
		return *res
	}
	dx, dy, res := e.resolvePoint(ctx, action, "destination_x", "destination_y")
	if res != nil {
		return *res
	}
	if res := e.prepareForPointer(ctx); res != nil {
		return *res
	}

	events := []surface.PointerEvent{
		{Type: surface.PointerMoved, X: x, Y: y, Button: surface.ButtonNone},
		{Type: surface.PointerPressed, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 1},
	}
	for i := 1; i <= dragMoveSteps; i++ {
		t := float64(i) / float64(dragMoveSteps)
		events = append(events, surface.PointerEvent{
			Type:   surface.PointerMoved,
			X:      x + (dx-x)*t,
			Y:      y + (dy-y)*t,
			Button: surface.ButtonLeft,
		})
	}
	events = append(events, surface.PointerEvent{
		Type: surface.PointerReleased, X: dx, Y: dy, Button: surface.ButtonLeft, ClickCount: 1,
	})

	for _, ev := range events {
		if err := e.surface.InjectPointerEvent(ctx, ev); err != nil {
			return schemas.ActionResult{OK: false, Error: fmt.Sprintf("pointer dispatch failed: %v", err)}
		}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeKeyCombination(ctx context.Context, action schemas.Action) schemas.ActionResult {
	combo, ok := action.StringArg("keys")
	if !ok || combo == "" {
		return schemas.ActionResult{OK: false, Error: "key_combination requires a keys argument"}
	}
	key, mods, err := parseKeyCombination(combo)
	if err != nil {
		return schemas.ActionResult{OK: false, Error: err.Error()}
	}
	if err := e.tapKey(ctx, key, mods); err != nil {
		return schemas.ActionResult{OK: false, Error: fmt.Sprintf("key dispatch failed: %v", err)}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) executeWait(ctx context.Context, action schemas.Action) schemas.ActionResult {
	seconds, ok := action.FloatArg("seconds")
	if !ok || seconds <= 0 {
		seconds = 1
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	return e.delay(ctx, time.Duration(seconds*float64(time.Second)))
}

func (e *Executor) delay(ctx context.Context, d time.Duration) schemas.ActionResult {
	select {
	case <-ctx.Done():
		return schemas.ActionResult{OK: false, Error: ctx.Err().Error()}
	case <-time.After(d):
		return schemas.ActionResult{OK: true, Response: map[string]any{"waited_ms": d.Milliseconds()}}
	}
}

// resultFromErr wraps a primitive surface operation's error into a
// structured action result.
func (e *Executor) resultFromErr(_ context.Context, err error) schemas.ActionResult {
	if err != nil {
		return schemas.ActionResult{OK: false, Error: err.Error()}
	}
	return schemas.ActionResult{OK: true}
}

// resolvePoint maps the action's normalized coordinates into surface CSS
// pixels. The second return is non-nil on failure.
func (e *Executor) resolvePoint(ctx context.Context, action schemas.Action, xKey, yKey string) (float64, float64, *schemas.ActionResult) {
	nx, okX := action.FloatArg(xKey)
	ny, okY := action.FloatArg(yKey)
	if !okX || !okY {
		return 0, 0, &schemas.ActionResult{OK: false, Error: ErrMissingCoordinate.Error()}
	}

	e.mu.Lock()
	transform := e.lastTransform
	hasFrame := e.hasFrame
	e.mu.Unlock()
	if !hasFrame {
		return 0, 0, &schemas.ActionResult{OK: false, Error: "no frame captured yet"}
	}

	live, err := e.surface.Viewport(ctx)
	if err != nil {
		// The frame transform still carries a usable viewport.
		e.logger.Debug("Live viewport unavailable, using frame viewport", zap.Error(err))
		live = schemas.Viewport{Width: transform.ViewportW, Height: transform.ViewportH}
	}

	x, y := e.mapper.ToSurface(nx, ny, transform, live)
	return x, y, nil
}

// prepareForPointer waits for DOM readiness and verifies the page still
// matches the last stabilized frame. Non-nil result aborts the action.
func (e *Executor) prepareForPointer(ctx context.Context) *schemas.ActionResult {
	e.waitReady(ctx)

	drift, err := e.drift.Drift(ctx)
	if err != nil {
		// Drift measurement is a guard, not a requirement; log and proceed.
		e.logger.Debug("Drift check failed, proceeding", zap.Error(err))
		return nil
	}
	if drift > e.driftThreshold {
		e.logger.Info("Aborting pointer action, page drifted from last frame",
			zap.Float64("drift", drift), zap.Float64("threshold", e.driftThreshold))
		return &schemas.ActionResult{OK: false, Error: ErrPageChanged.Error()}
	}
	return nil
}

// waitReady polls document readiness up to the bounded timeout, then lets
// the page settle briefly. Timing out is not an error; the action proceeds
// against whatever state the page is in.
func (e *Executor) waitReady(ctx context.Context) {
	deadline := time.Now().Add(e.readinessTimeout)
	for time.Now().Before(deadline) {
		state, err := e.surface.DocumentReadyState(ctx)
		if err == nil && state == "complete" {
			e.settle(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(readinessPollInterval):
		}
	}
}

func (e *Executor) settle(ctx context.Context) {
	if e.readinessSettle <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.readinessSettle):
	}
}

func (e *Executor) doubleClick(ctx context.Context, x, y float64) error {
	events := []surface.PointerEvent{
		{Type: surface.PointerMoved, X: x, Y: y, Button: surface.ButtonNone},
		{Type: surface.PointerPressed, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 1},
		{Type: surface.PointerReleased, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 1},
		{Type: surface.PointerPressed, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 2},
		{Type: surface.PointerReleased, X: x, Y: y, Button: surface.ButtonLeft, ClickCount: 2},
	}
	for _, ev := range events {
		if err := e.surface.InjectPointerEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// selectAllAndDelete clears the focused field with the platform select-all
// shortcut followed by Delete.
func (e *Executor) selectAllAndDelete(ctx context.Context) error {
	selectAll := surface.ModCtrl
	if runtime.GOOS == "darwin" {
		selectAll = surface.ModMeta
	}
	if err := e.tapKey(ctx, "a", selectAll); err != nil {
		return err
	}
	return e.tapKey(ctx, "Delete", 0)
}

// tapKey synthesizes a key-down/key-up pair.
func (e *Executor) tapKey(ctx context.Context, key string, mods surface.Modifier) error {
	down := surface.KeyEvent{Type: surface.KeyDown, Key: key, Modifiers: mods}
	up := surface.KeyEvent{Type: surface.KeyUp, Key: key, Modifiers: mods}
	if err := e.surface.InjectKeyEvent(ctx, down); err != nil {
		return err
	}
	return e.surface.InjectKeyEvent(ctx, up)
}

// scrollDelta converts a direction string into DOM-convention wheel deltas.
func scrollDelta(direction string, magX, magY float64) (float64, float64, error) {
	switch direction {
	case "down", "":
		return 0, magY, nil
	case "up":
		return 0, -magY, nil
	case "right":
		return magX, 0, nil
	case "left":
		return -magX, 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown scroll direction %q", direction)
	}
}

// currentURL reads the post-action location best-effort.
func (e *Executor) currentURL(ctx context.Context) string {
	u, err := e.surface.CurrentURL(ctx)
	if err != nil {
		e.logger.Debug("Failed to read surface URL", zap.Error(err))
		return ""
	}
	return u
}

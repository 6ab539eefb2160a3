// internal/browser/surface/surface.go
package surface

import (
	"context"
	"encoding/json"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// PointerEventType mirrors the CDP mouse event type vocabulary.
type PointerEventType string

const (
	PointerPressed  PointerEventType = "mousePressed"
	PointerReleased PointerEventType = "mouseReleased"
	PointerMoved    PointerEventType = "mouseMoved"
)

// PointerButton selects which mouse button an event refers to.
type PointerButton string

const (
	ButtonNone PointerButton = "none"
	ButtonLeft PointerButton = "left"
)

// KeyEventType mirrors the CDP key event type vocabulary.
type KeyEventType string

const (
	KeyDown KeyEventType = "keyDown"
	KeyUp   KeyEventType = "keyUp"
	KeyChar KeyEventType = "char"
)

// Modifier is a bitmask of held modifier keys.
type Modifier int

const (
	ModAlt Modifier = 1 << iota
	ModCtrl
	ModMeta
	ModShift
)

// PointerEvent is one primitive pointer operation in CSS pixels.
type PointerEvent struct {
	Type       PointerEventType
	X          float64
	Y          float64
	Button     PointerButton
	ClickCount int
}

// WheelEvent is one synthesized wheel tick at a position.
type WheelEvent struct {
	X      float64
	Y      float64
	DeltaX float64
	DeltaY float64
}

// KeyEvent is one primitive keyboard operation.
type KeyEvent struct {
	Type      KeyEventType
	Key       string
	Text      string
	Modifiers Modifier
}

// Surface is the capability contract the control loop requires from the
// rendering engine. The production implementation drives a Chromium tab
// over CDP; tests substitute a mock.
type Surface interface {
	// Screenshot captures the current viewport as encoded PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// InjectPointerEvent dispatches a raw pointer event.
	InjectPointerEvent(ctx context.Context, ev PointerEvent) error

	// InjectWheelEvent dispatches a raw wheel event.
	InjectWheelEvent(ctx context.Context, ev WheelEvent) error

	// InjectKeyEvent dispatches a raw keyboard event.
	InjectKeyEvent(ctx context.Context, ev KeyEvent) error

	// InsertText atomically inserts text at the focused element, bypassing
	// per-character key synthesis.
	InsertText(ctx context.Context, text string) error

	// Navigate loads the given URL in the controlled tab.
	Navigate(ctx context.Context, url string) error

	// GoBack and GoForward move through the tab's session history.
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error

	// CurrentURL reports the tab's present location.
	CurrentURL(ctx context.Context) (string, error)

	// RunScript evaluates JavaScript in the page, awaiting promises, and
	// returns the JSON-encoded result value.
	RunScript(ctx context.Context, code string) (json.RawMessage, error)

	// IsLoading reports whether the document is still loading.
	IsLoading(ctx context.Context) (bool, error)

	// DocumentReadyState returns the document.readyState value.
	DocumentReadyState(ctx context.Context) (string, error)

	// Viewport measures the visual viewport in CSS pixels.
	Viewport(ctx context.Context) (schemas.Viewport, error)

	// DevicePixelRatio reports window.devicePixelRatio.
	DevicePixelRatio(ctx context.Context) (float64, error)
}

// api/schemas/overlay.go
package schemas

// OverlayEventType enumerates the fire-and-forget events sent to the
// on-screen overlay renderer.
type OverlayEventType string

const (
	OverlayStart          OverlayEventType = "start"
	OverlayLog            OverlayEventType = "log"
	OverlayPointer        OverlayEventType = "pointer"
	OverlayHighlight      OverlayEventType = "highlight"
	OverlayHighlightPoint OverlayEventType = "highlight-point"
	OverlayHighlightClear OverlayEventType = "highlight-clear"
	OverlayEnd            OverlayEventType = "end"
)

// PointerMode distinguishes pointer-style from text-caret overlay cursors.
type PointerMode string

const (
	PointerModePointer PointerMode = "pointer"
	PointerModeText    PointerMode = "text"
)

// Rect is an overlay highlight rectangle in normalized [0,1] coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// OverlayEvent is keyed by the run that produced it so consumers can drop
// stale events from a superseded run.
type OverlayEvent struct {
	Type  OverlayEventType `json:"type"`
	RunID string           `json:"run_id"`
	Text  string           `json:"text,omitempty"`
	X     float64          `json:"x,omitempty"`
	Y     float64          `json:"y,omitempty"`
	Mode  PointerMode      `json:"mode,omitempty"`
	Rect  *Rect            `json:"rect,omitempty"`
}

// internal/overlay/emitter.go
package overlay

import (
	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Emitter stamps overlay events with a run identifier before publishing.
// A nil Emitter is valid and drops everything, so callers never need to
// guard emission sites.
type Emitter struct {
	bus   *Bus
	runID string
}

// NewEmitter binds a bus to one run. bus may be nil when no overlay UI is
// attached.
func NewEmitter(bus *Bus, runID string) *Emitter {
	if bus == nil {
		return nil
	}
	return &Emitter{bus: bus, runID: runID}
}

func (e *Emitter) publish(ev schemas.OverlayEvent) {
	if e == nil {
		return
	}
	ev.RunID = e.runID
	e.bus.Publish(ev)
}

// Start announces the beginning of a run.
func (e *Emitter) Start(prompt string) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayStart, Text: prompt})
}

// Log publishes one human-readable progress line.
func (e *Emitter) Log(line string) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayLog, Text: line})
}

// Pointer moves the visual pointer to a normalized position.
func (e *Emitter) Pointer(x, y float64, mode schemas.PointerMode) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayPointer, X: x, Y: y, Mode: mode})
}

// Highlight draws an attention rectangle in normalized coordinates.
func (e *Emitter) Highlight(r schemas.Rect) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayHighlight, Rect: &r})
}

// HighlightPoint marks a single normalized point.
func (e *Emitter) HighlightPoint(x, y float64) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayHighlightPoint, X: x, Y: y})
}

// ClearHighlight removes any active highlight.
func (e *Emitter) ClearHighlight() {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayHighlightClear})
}

// End announces run completion with the final answer text.
func (e *Emitter) End(finalText string) {
	e.publish(schemas.OverlayEvent{Type: schemas.OverlayEnd, Text: finalText})
}

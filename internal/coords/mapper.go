// internal/coords/mapper.go
package coords

import (
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Normalized coordinate conventions the model may use. Anything above the
// unit-range cutoff is treated as thousandths.
const (
	unitRangeCutoff = 1.5
	thousandScale   = 1000.0
)

// Mapper converts model-emitted normalized coordinates into live-surface CSS
// pixels using the most recent Frame Transform. The frame was captured,
// cropped and resized asynchronously relative to the moment an action
// executes, so the mapping corrects for scale, crop offset, device pixel
// ratio and viewport disagreement.
type Mapper struct {
	logger *zap.Logger

	// viewportTolerance is the relative disagreement between the frame's
	// recorded viewport and the live one beyond which the live measurement
	// wins. Guards against systematic offset from scrollbars and rounding.
	viewportTolerance float64
}

// New builds a Mapper with the given viewport disagreement tolerance.
func New(viewportTolerance float64, logger *zap.Logger) *Mapper {
	return &Mapper{
		logger:            logger.Named("coords"),
		viewportTolerance: viewportTolerance,
	}
}

// ToSurface maps one normalized coordinate pair onto the live surface.
// Results are clamped to [0, viewportDim-1] on each axis.
func (m *Mapper) ToSurface(nx, ny float64, t schemas.FrameTransform, live schemas.Viewport) (float64, float64) {
	frameW := t.CropW * t.Scale
	frameH := t.CropH * t.Scale

	// Scale normalized values into frame pixel space.
	fx := denormalize(nx, frameW)
	fy := denormalize(ny, frameH)

	// Invert the frame transform: un-scale, un-crop, then device to CSS.
	dpr := t.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	scale := t.Scale
	if scale <= 0 {
		scale = 1
	}
	cssX := (fx/scale + t.CropX) / dpr
	cssY := (fy/scale + t.CropY) / dpr

	// Prefer the frame-recorded viewport unless it disagrees with the live
	// one beyond tolerance; then rescale onto the live viewport.
	vw, vh := t.ViewportW, t.ViewportH
	if m.disagrees(t.ViewportW, live.Width) || m.disagrees(t.ViewportH, live.Height) {
		m.logger.Debug("Frame viewport disagrees with live viewport, rescaling",
			zap.Float64("frame_w", t.ViewportW), zap.Float64("frame_h", t.ViewportH),
			zap.Float64("live_w", live.Width), zap.Float64("live_h", live.Height))
		if t.ViewportW > 0 && t.ViewportH > 0 && live.Width > 0 && live.Height > 0 {
			cssX = cssX * live.Width / t.ViewportW
			cssY = cssY * live.Height / t.ViewportH
		}
		vw, vh = live.Width, live.Height
	}

	return clamp(cssX, vw), clamp(cssY, vh)
}

// disagrees reports whether two viewport dimensions differ by more than the
// relative tolerance.
func (m *Mapper) disagrees(frame, live float64) bool {
	if frame <= 0 || live <= 0 {
		return false
	}
	return math.Abs(frame-live)/frame > m.viewportTolerance
}

// denormalize converts a model coordinate into frame pixels, detecting by
// range whether it is normalized to [0,1] or [0,1000].
func denormalize(n, dim float64) float64 {
	if n > unitRangeCutoff {
		return n / thousandScale * dim
	}
	return n * dim
}

func clamp(v, dim float64) float64 {
	if dim <= 0 {
		return 0
	}
	return math.Max(0, math.Min(v, dim-1))
}

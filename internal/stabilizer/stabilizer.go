// internal/stabilizer/stabilizer.go
package stabilizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Signature grid dimensions. Small enough that comparing two captures is
// effectively free next to the screenshot itself.
const (
	sigWidth  = 96
	sigHeight = 60
)

const captureRetries = 3

// Stabilizer captures screenshots of the controlled surface only once the
// page has visually settled, then crops and downsizes them into canonical
// Frames. It remembers the signature of the last stable capture so callers
// can later measure perceptual drift against it.
type Stabilizer struct {
	surface surface.Surface
	logger  *zap.Logger

	interval  time.Duration
	timeout   time.Duration
	threshold float64
	maxWidth  int
	maxHeight int

	mu      sync.Mutex
	lastSig []float64
}

// New builds a Stabilizer over the given surface.
func New(s surface.Surface, cfg config.AgentConfig, logger *zap.Logger) *Stabilizer {
	return &Stabilizer{
		surface:   s,
		logger:    logger.Named("stabilizer"),
		interval:  cfg.StabilityInterval,
		timeout:   cfg.StabilityTimeout,
		threshold: cfg.StabilityThreshold,
		maxWidth:  cfg.FrameMaxWidth,
		maxHeight: cfg.FrameMaxHeight,
	}
}

// CaptureStableFrame polls screenshots until visual change settles or the
// stability timeout elapses, then returns the canonical Frame. Capture
// failures are retried with backoff; exhaustion is fatal for the run.
func (st *Stabilizer) CaptureStableFrame(ctx context.Context) (*schemas.Frame, error) {
	raw, err := st.captureWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	img, err := decodePNG(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	prevSig := computeSignature(img)

	deadline := time.Now().Add(st.timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(st.interval):
		}

		nextRaw, err := st.captureWithRetry(ctx)
		if err != nil {
			return nil, err
		}
		nextImg, err := decodePNG(nextRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode screenshot: %w", err)
		}

		sig := computeSignature(nextImg)
		diff := signatureDiff(prevSig, sig)
		raw, img, prevSig = nextRaw, nextImg, sig

		if diff < st.threshold {
			st.logger.Debug("Page visually settled", zap.Float64("diff", diff))
			break
		}
		st.logger.Debug("Page still changing", zap.Float64("diff", diff))
	}

	st.mu.Lock()
	st.lastSig = prevSig
	st.mu.Unlock()

	return st.buildFrame(ctx, img)
}

// Drift captures one raw screenshot and reports the signature difference
// against the last stable frame, in [0,1]. Returns 0 when no frame has been
// captured yet.
func (st *Stabilizer) Drift(ctx context.Context) (float64, error) {
	st.mu.Lock()
	base := st.lastSig
	st.mu.Unlock()
	if base == nil {
		return 0, nil
	}

	raw, err := st.captureWithRetry(ctx)
	if err != nil {
		return 0, err
	}
	img, err := decodePNG(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return signatureDiff(base, computeSignature(img)), nil
}

func (st *Stabilizer) captureWithRetry(ctx context.Context) ([]byte, error) {
	var raw []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	operation := func() error {
		var err error
		raw, err = st.surface.Screenshot(ctx)
		if err != nil {
			st.logger.Warn("Screenshot capture failed, retrying...", zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), captureRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("screenshot capture failed after %d retries: %w", captureRetries, err)
	}
	return raw, nil
}

// buildFrame center-crops the capture to the target aspect ratio, downscales
// it under the resolution cap, and records the exact transform applied.
func (st *Stabilizer) buildFrame(ctx context.Context, img image.Image) (*schemas.Frame, error) {
	viewport, err := st.surface.Viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to measure viewport: %w", err)
	}
	dpr, err := st.surface.DevicePixelRatio(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device pixel ratio: %w", err)
	}

	bounds := img.Bounds()
	rawW := float64(bounds.Dx())
	rawH := float64(bounds.Dy())

	// Center-crop the longer dimension to the target aspect ratio.
	targetAspect := float64(st.maxWidth) / float64(st.maxHeight)
	cropW, cropH := rawW, rawH
	if rawW/rawH > targetAspect {
		cropW = rawH * targetAspect
	} else {
		cropH = rawW / targetAspect
	}
	cropX := (rawW - cropW) / 2
	cropY := (rawH - cropH) / 2

	// Never upscale; only shrink to fit the cap.
	scale := math.Min(1, math.Min(float64(st.maxWidth)/cropW, float64(st.maxHeight)/cropH))
	outW := int(math.Round(cropW * scale))
	outH := int(math.Round(cropH * scale))

	cropRect := image.Rect(
		bounds.Min.X+int(math.Round(cropX)),
		bounds.Min.Y+int(math.Round(cropY)),
		bounds.Min.X+int(math.Round(cropX+cropW)),
		bounds.Min.Y+int(math.Round(cropY+cropH)),
	)

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, cropRect, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return &schemas.Frame{
		Width:  outW,
		Height: outH,
		PNG:    buf.Bytes(),
		Transform: schemas.FrameTransform{
			CropX:            cropX,
			CropY:            cropY,
			CropW:            cropW,
			CropH:            cropH,
			Scale:            scale,
			DevicePixelRatio: dpr,
			ViewportW:        viewport.Width,
			ViewportH:        viewport.Height,
		},
	}, nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// computeSignature downsamples the image onto a small luminance grid.
// Values are normalized to [0,1].
func computeSignature(img image.Image) []float64 {
	small := image.NewRGBA(image.Rect(0, 0, sigWidth, sigHeight))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	sig := make([]float64, sigWidth*sigHeight)
	for y := 0; y < sigHeight; y++ {
		for x := 0; x < sigWidth; x++ {
			i := small.PixOffset(x, y)
			r := float64(small.Pix[i])
			g := float64(small.Pix[i+1])
			b := float64(small.Pix[i+2])
			// Rec. 601 luma weights.
			sig[y*sigWidth+x] = (0.299*r + 0.587*g + 0.114*b) / 255
		}
	}
	return sig
}

// signatureDiff is the mean absolute luminance difference, in [0,1].
func signatureDiff(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}

// internal/stabilizer/stabilizer_test.go
package stabilizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/mocks"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		StabilityInterval:  5 * time.Millisecond,
		StabilityTimeout:   100 * time.Millisecond,
		StabilityThreshold: 0.018,
		FrameMaxWidth:      1440,
		FrameMaxHeight:     900,
	}
}

func expectGeometry(m *mocks.MockSurface, w, h float64) {
	m.On("Viewport", mock.Anything).Return(schemas.Viewport{Width: w, Height: h}, nil)
	m.On("DevicePixelRatio", mock.Anything).Return(1.0, nil)
}

func TestCaptureStableFrame_SettlesOnFirstRepoll(t *testing.T) {
	ms := new(mocks.MockSurface)
	white := solidPNG(t, 320, 200, color.White)
	ms.On("Screenshot", mock.Anything).Return(white, nil)
	expectGeometry(ms, 320, 200)

	cfg := testAgentConfig()
	cfg.StabilityTimeout = 10 * time.Second // a full wait would make this test hang visibly
	st := New(ms, cfg, zaptest.NewLogger(t))

	start := time.Now()
	frame, err := st.CaptureStableFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)

	// Identical captures settle immediately: one initial capture plus one re-poll.
	screenshots := 0
	for _, call := range ms.Calls {
		if call.Method == "Screenshot" {
			screenshots++
		}
	}
	assert.Equal(t, 2, screenshots)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCaptureStableFrame_TimeoutReturnsLastCapture(t *testing.T) {
	ms := new(mocks.MockSurface)
	// Alternate black and white so the signature never settles.
	ms.On("Screenshot", mock.Anything).Return(solidPNG(t, 320, 200, color.White), nil).Once()
	ms.On("Screenshot", mock.Anything).Return(solidPNG(t, 320, 200, color.Black), nil).Once()
	ms.On("Screenshot", mock.Anything).Return(solidPNG(t, 320, 200, color.White), nil).Once()
	ms.On("Screenshot", mock.Anything).Return(solidPNG(t, 320, 200, color.Black), nil)
	expectGeometry(ms, 320, 200)

	cfg := testAgentConfig()
	cfg.StabilityTimeout = 25 * time.Millisecond
	st := New(ms, cfg, zaptest.NewLogger(t))

	frame, err := st.CaptureStableFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
}

func TestCaptureStableFrame_TransformGeometry(t *testing.T) {
	testCases := []struct {
		name       string
		rawW, rawH int
		wantCropX  float64
		wantCropY  float64
		wantScale  float64
		wantW      int
		wantH      int
	}{
		{
			name: "exact aspect, downscale only",
			rawW: 1600, rawH: 1000,
			wantCropX: 0, wantCropY: 0,
			wantScale: 0.9, wantW: 1440, wantH: 900,
		},
		{
			name: "taller than 16:10 trims height",
			rawW: 1600, rawH: 1200,
			wantCropX: 0, wantCropY: 100,
			wantScale: 0.9, wantW: 1440, wantH: 900,
		},
		{
			name: "wider than 16:10 trims width",
			rawW: 2000, rawH: 1000,
			wantCropX: 200, wantCropY: 0,
			wantScale: 0.9, wantW: 1440, wantH: 900,
		},
		{
			name: "small capture is never upscaled",
			rawW: 800, rawH: 500,
			wantCropX: 0, wantCropY: 0,
			wantScale: 1, wantW: 800, wantH: 500,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ms := new(mocks.MockSurface)
			ms.On("Screenshot", mock.Anything).Return(solidPNG(t, tc.rawW, tc.rawH, color.White), nil)
			expectGeometry(ms, float64(tc.rawW), float64(tc.rawH))

			st := New(ms, testAgentConfig(), zaptest.NewLogger(t))
			frame, err := st.CaptureStableFrame(context.Background())
			require.NoError(t, err)

			assert.InDelta(t, tc.wantCropX, frame.Transform.CropX, 0.5)
			assert.InDelta(t, tc.wantCropY, frame.Transform.CropY, 0.5)
			assert.InDelta(t, tc.wantScale, frame.Transform.Scale, 0.001)
			assert.Equal(t, tc.wantW, frame.Width)
			assert.Equal(t, tc.wantH, frame.Height)
			assert.NotEmpty(t, frame.PNG)
		})
	}
}

func TestCaptureStableFrame_CapturePropagatesAfterRetries(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Screenshot", mock.Anything).Return(nil, errors.New("target closed"))

	st := New(ms, testAgentConfig(), zaptest.NewLogger(t))
	_, err := st.CaptureStableFrame(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
}

func TestCaptureStableFrame_RecoversFromTransientFailure(t *testing.T) {
	ms := new(mocks.MockSurface)
	white := solidPNG(t, 320, 200, color.White)
	ms.On("Screenshot", mock.Anything).Return(nil, errors.New("transient")).Once()
	ms.On("Screenshot", mock.Anything).Return(white, nil)
	expectGeometry(ms, 320, 200)

	st := New(ms, testAgentConfig(), zaptest.NewLogger(t))
	frame, err := st.CaptureStableFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
}

func TestDrift(t *testing.T) {
	ms := new(mocks.MockSurface)
	white := solidPNG(t, 320, 200, color.White)
	black := solidPNG(t, 320, 200, color.Black)
	ms.On("Screenshot", mock.Anything).Return(white, nil).Times(2)
	ms.On("Screenshot", mock.Anything).Return(black, nil)
	expectGeometry(ms, 320, 200)

	st := New(ms, testAgentConfig(), zaptest.NewLogger(t))

	// No frame yet: drift is zero by definition.
	d, err := st.Drift(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = st.CaptureStableFrame(context.Background())
	require.NoError(t, err)

	d, err = st.Drift(context.Background())
	require.NoError(t, err)
	assert.Greater(t, d, 0.9, "white to black should be near-total drift")
}

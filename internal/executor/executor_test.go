// internal/executor/executor_test.go
package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/coords"
	"github.com/xkilldash9x/webpilot/internal/mocks"
)

type stubDrift struct {
	value float64
	err   error
}

func (s *stubDrift) Drift(ctx context.Context) (float64, error) {
	return s.value, s.err
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:          15,
		ReadinessTimeout:  100 * time.Millisecond,
		ReadinessSettle:   time.Millisecond,
		DriftThreshold:    0.04,
		ViewportTolerance: 0.08,
	}
}

func newTestExecutor(t *testing.T, ms *mocks.MockSurface, drift *stubDrift) *Executor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e := New(ms, coords.New(0.08, logger), drift, testAgentConfig(), logger)
	e.wheelSign = 1 // pin the platform wheel convention for assertions
	return e
}

func identityFrame() schemas.FrameTransform {
	return schemas.FrameTransform{
		CropX: 0, CropY: 0, CropW: 1440, CropH: 900,
		Scale:            1,
		DevicePixelRatio: 1,
		ViewportW:        1440,
		ViewportH:        900,
	}
}

func expectURL(ms *mocks.MockSurface, url string) {
	ms.On("CurrentURL", mock.Anything).Return(url, nil)
}

func expectReady(ms *mocks.MockSurface) {
	ms.On("DocumentReadyState", mock.Anything).Return("complete", nil)
	ms.On("Viewport", mock.Anything).Return(schemas.Viewport{Width: 1440, Height: 900}, nil)
}

func TestExecute_NavigateRequiresURL(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "about:blank")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{Name: "navigate"})
	assert.False(t, res.OK)
	assert.Equal(t, ErrNoURL.Error(), res.Error)
	assert.Equal(t, "about:blank", res.SurfaceURL)
}

func TestExecute_Navigate(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Navigate", mock.Anything, "https://example.com").Return(nil)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "navigate",
		Args: map[string]any{"url": "https://example.com"},
	})
	require.True(t, res.OK, res.Error)
	assert.Equal(t, "https://example.com/", res.SurfaceURL)
	ms.AssertExpectations(t)
}

func TestExecute_OpenPageAliasesNavigate(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Navigate", mock.Anything, "https://example.com").Return(nil)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "open_page",
		Args: map[string]any{"url": "https://example.com"},
	})
	assert.True(t, res.OK, res.Error)
}

func TestExecute_SearchEscapesQuery(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Navigate", mock.Anything, "https://www.google.com/search?q=cheap+flights+%26+hotels").Return(nil)
	expectURL(ms, "https://www.google.com/search?q=cheap+flights+%26+hotels")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "search",
		Args: map[string]any{"query": "cheap flights & hotels"},
	})
	require.True(t, res.OK, res.Error)
	ms.AssertExpectations(t)
}

func TestExecute_History(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("GoBack", mock.Anything).Return(nil).Once()
	ms.On("GoForward", mock.Anything).Return(nil).Once()
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	assert.True(t, e.Execute(context.Background(), schemas.Action{Name: "go_back"}).OK)
	assert.True(t, e.Execute(context.Background(), schemas.Action{Name: "go_forward"}).OK)
	ms.AssertExpectations(t)
}

func TestExecute_ClickAt(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	e := newTestExecutor(t, ms, &stubDrift{value: 0})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "click_at",
		Args: map[string]any{"x": 0.5, "y": 0.5},
	})
	require.True(t, res.OK, res.Error)

	var pointer []surface.PointerEvent
	for _, call := range ms.Calls {
		if call.Method == "InjectPointerEvent" {
			pointer = append(pointer, call.Arguments.Get(1).(surface.PointerEvent))
		}
	}
	require.Len(t, pointer, 3)
	assert.Equal(t, surface.PointerMoved, pointer[0].Type)
	assert.Equal(t, surface.PointerPressed, pointer[1].Type)
	assert.Equal(t, surface.PointerReleased, pointer[2].Type)
	for _, ev := range pointer {
		assert.InDelta(t, 720, ev.X, 0.5)
		assert.InDelta(t, 450, ev.Y, 0.5)
	}
}

func TestExecute_HoverOnlyMoves(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.MatchedBy(func(ev surface.PointerEvent) bool {
		return ev.Type == surface.PointerMoved
	})).Return(nil).Once()
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "hover_at",
		Args: map[string]any{"x": 0.1, "y": 0.1},
	})
	require.True(t, res.OK, res.Error)
	ms.AssertExpectations(t)
}

func TestExecute_PointerAbortsOnDrift(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{value: 0.2})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "click_at",
		Args: map[string]any{"x": 0.5, "y": 0.5},
	})
	assert.False(t, res.OK)
	assert.Equal(t, ErrPageChanged.Error(), res.Error)
	ms.AssertNotCalled(t, "InjectPointerEvent", mock.Anything, mock.Anything)
}

func TestExecute_PointerProceedsWhenDriftCheckFails(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	e := newTestExecutor(t, ms, &stubDrift{err: errors.New("capture failed")})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "click_at",
		Args: map[string]any{"x": 0.5, "y": 0.5},
	})
	assert.True(t, res.OK, res.Error)
}

func TestExecute_PointerRequiresFrame(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "click_at",
		Args: map[string]any{"x": 0.5, "y": 0.5},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "no frame")
}

func TestExecute_TypeTextAt(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	ms.On("InsertText", mock.Anything, "hello").Return(nil).Once()
	ms.On("InjectKeyEvent", mock.Anything, mock.MatchedBy(func(ev surface.KeyEvent) bool {
		return ev.Key == "Enter"
	})).Return(nil).Twice() // keyDown + keyUp
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "type_text_at",
		Args: map[string]any{"x": 0.5, "y": 0.5, "text": "hello", "press_enter": true},
	})
	require.True(t, res.OK, res.Error)

	// Double-click focus synthesis: move + two press/release pairs.
	var pointer int
	for _, call := range ms.Calls {
		if call.Method == "InjectPointerEvent" {
			pointer++
		}
	}
	assert.Equal(t, 5, pointer)
	ms.AssertExpectations(t)
}

func TestExecute_TypeTextPerCharacter(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	ms.On("InjectKeyEvent", mock.Anything, mock.MatchedBy(func(ev surface.KeyEvent) bool {
		return ev.Type == surface.KeyChar
	})).Return(nil).Times(2)
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "type_text_at",
		Args: map[string]any{"x": 0.5, "y": 0.5, "text": "hi", "per_character": true},
	})
	require.True(t, res.OK, res.Error)
	ms.AssertNotCalled(t, "InsertText", mock.Anything, mock.Anything)
	ms.AssertExpectations(t)
}

func TestExecute_TypeTextClearsField(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	ms.On("InjectKeyEvent", mock.Anything, mock.Anything).Return(nil)
	ms.On("InsertText", mock.Anything, "fresh").Return(nil).Once()
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "type_text_at",
		Args: map[string]any{"x": 0.5, "y": 0.5, "text": "fresh", "clear_before_typing": true},
	})
	require.True(t, res.OK, res.Error)

	var keys []surface.KeyEvent
	for _, call := range ms.Calls {
		if call.Method == "InjectKeyEvent" {
			keys = append(keys, call.Arguments.Get(1).(surface.KeyEvent))
		}
	}
	// select-all down/up then Delete down/up
	require.Len(t, keys, 4)
	assert.Equal(t, "a", keys[0].Key)
	assert.NotZero(t, keys[0].Modifiers)
	assert.Equal(t, "Delete", keys[2].Key)
}

func TestExecute_ScrollDocument(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Viewport", mock.Anything).Return(schemas.Viewport{Width: 1440, Height: 900}, nil)
	expectURL(ms, "https://example.com/")
	ms.On("InjectWheelEvent", mock.Anything, mock.MatchedBy(func(ev surface.WheelEvent) bool {
		return ev.X == 720 && ev.Y == 450 && ev.DeltaY == 900*documentScrollFraction && ev.DeltaX == 0
	})).Return(nil).Once()
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "scroll_document",
		Args: map[string]any{"direction": "down"},
	})
	require.True(t, res.OK, res.Error)
	ms.AssertExpectations(t)
}

func TestExecute_ScrollAt(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Viewport", mock.Anything).Return(schemas.Viewport{Width: 1440, Height: 900}, nil)
	expectURL(ms, "https://example.com/")
	ms.On("InjectWheelEvent", mock.Anything, mock.MatchedBy(func(ev surface.WheelEvent) bool {
		return ev.DeltaY == -250
	})).Return(nil).Once()
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "scroll_at",
		Args: map[string]any{"x": 0.5, "y": 0.5, "direction": "up", "magnitude": 250},
	})
	require.True(t, res.OK, res.Error)
	ms.AssertExpectations(t)
}

func TestExecute_ScrollRejectsUnknownDirection(t *testing.T) {
	ms := new(mocks.MockSurface)
	ms.On("Viewport", mock.Anything).Return(schemas.Viewport{Width: 1440, Height: 900}, nil)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "scroll_document",
		Args: map[string]any{"direction": "sideways"},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown scroll direction")
}

func TestExecute_DragAndDrop(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectReady(ms)
	expectURL(ms, "https://example.com/")
	ms.On("InjectPointerEvent", mock.Anything, mock.Anything).Return(nil)
	e := newTestExecutor(t, ms, &stubDrift{})
	e.SetFrame(identityFrame())

	res := e.Execute(context.Background(), schemas.Action{
		Name: "drag_and_drop",
		Args: map[string]any{"x": 0.1, "y": 0.1, "destination_x": 0.9, "destination_y": 0.9},
	})
	require.True(t, res.OK, res.Error)

	var pointer []surface.PointerEvent
	for _, call := range ms.Calls {
		if call.Method == "InjectPointerEvent" {
			pointer = append(pointer, call.Arguments.Get(1).(surface.PointerEvent))
		}
	}
	// move, press, interpolated moves, release
	require.Len(t, pointer, 2+dragMoveSteps+1)
	assert.Equal(t, surface.PointerPressed, pointer[1].Type)
	assert.Equal(t, surface.PointerReleased, pointer[len(pointer)-1].Type)

	// Interpolated moves advance monotonically toward the destination.
	prev := pointer[1].X
	for _, ev := range pointer[2 : len(pointer)-1] {
		assert.Equal(t, surface.PointerMoved, ev.Type)
		assert.GreaterOrEqual(t, ev.X, prev)
		prev = ev.X
	}
}

func TestExecute_KeyCombination(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "https://example.com/")
	var keys []surface.KeyEvent
	ms.On("InjectKeyEvent", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		keys = append(keys, args.Get(1).(surface.KeyEvent))
	}).Return(nil)
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "key_combination",
		Args: map[string]any{"keys": "control+shift+t"},
	})
	require.True(t, res.OK, res.Error)
	require.Len(t, keys, 2)
	assert.Equal(t, surface.KeyDown, keys[0].Type)
	assert.Equal(t, surface.KeyUp, keys[1].Type)
	assert.Equal(t, "t", keys[0].Key)
	assert.Equal(t, surface.ModCtrl|surface.ModShift, keys[0].Modifiers)
}

func TestExecute_WaitHonorsContext(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, schemas.Action{
		Name: "wait",
		Args: map[string]any{"seconds": 30.0},
	})
	assert.False(t, res.OK)
}

func TestExecute_Wait(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{
		Name: "wait",
		Args: map[string]any{"seconds": 0.01},
	})
	assert.True(t, res.OK)
}

func TestExecute_UnsupportedAction(t *testing.T) {
	ms := new(mocks.MockSurface)
	expectURL(ms, "https://example.com/")
	e := newTestExecutor(t, ms, &stubDrift{})

	res := e.Execute(context.Background(), schemas.Action{Name: "teleport"})
	assert.False(t, res.OK)
	assert.Equal(t, ErrUnsupportedAction.Error(), res.Error)
}

func TestPlatformWheelSign(t *testing.T) {
	assert.Equal(t, float64(1), platformWheelSign("linux"))
	assert.Equal(t, float64(1), platformWheelSign("windows"))
	assert.Equal(t, float64(-1), platformWheelSign("darwin"))
}

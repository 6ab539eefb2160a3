// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
)

// -- Surface Mock --

// MockSurface mocks the surface.Surface capability contract.
type MockSurface struct {
	mock.Mock
}

var _ surface.Surface = (*MockSurface)(nil)

func (m *MockSurface) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSurface) InjectPointerEvent(ctx context.Context, ev surface.PointerEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockSurface) InjectWheelEvent(ctx context.Context, ev surface.WheelEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockSurface) InjectKeyEvent(ctx context.Context, ev surface.KeyEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockSurface) InsertText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockSurface) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockSurface) GoBack(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSurface) GoForward(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSurface) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSurface) RunScript(ctx context.Context, code string) (json.RawMessage, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockSurface) IsLoading(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockSurface) DocumentReadyState(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSurface) Viewport(ctx context.Context) (schemas.Viewport, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Viewport), args.Error(1)
}

func (m *MockSurface) DevicePixelRatio(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

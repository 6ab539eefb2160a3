// internal/browser/surface/cdp.go
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Per-operation timeouts. Input dispatch is fast; script evaluation and
// navigation may legitimately take longer.
const (
	inputTimeout    = 10 * time.Second
	scriptTimeout   = 20 * time.Second
	navigateTimeout = 90 * time.Second
)

// CDPSurface is the production Surface implementation. It owns one Chromium
// tab driven through chromedp.
type CDPSurface struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	logger      *zap.Logger
	mu          sync.Mutex
}

var _ Surface = (*CDPSurface)(nil)

// NewCDPSurface launches a browser per the configuration and attaches to a
// fresh tab. Close must be called to release the browser.
func NewCDPSurface(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*CDPSurface, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
		opts = append(opts, chromedp.Flag(kv[0], kv[1]))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// Starting with an empty task forces the browser process to launch now,
	// surfacing startup failures at construction time.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("Browser surface started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_w", cfg.ViewportWidth),
		zap.Int("viewport_h", cfg.ViewportHeight))

	return &CDPSurface{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		logger:      logger.Named("surface"),
	}, nil
}

// run executes chromedp actions against the tab, bounded by both the
// caller's context and a per-operation timeout.
func (s *CDPSurface) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tabCtx.Err(); err != nil {
		return fmt.Errorf("surface destroyed: %w", err)
	}

	opCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()

	select {
	case err := <-done:
		if err != nil && opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("surface operation timed out after %v: %w", timeout, opCtx.Err())
		}
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *CDPSurface) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, scriptTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (s *CDPSurface) InjectPointerEvent(ctx context.Context, ev PointerEvent) error {
	p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
		WithButton(input.MouseButton(ev.Button)).
		WithClickCount(int64(ev.ClickCount))
	return s.run(ctx, inputTimeout, p)
}

func (s *CDPSurface) InjectWheelEvent(ctx context.Context, ev WheelEvent) error {
	p := input.DispatchMouseEvent(input.MouseWheel, ev.X, ev.Y).
		WithDeltaX(ev.DeltaX).
		WithDeltaY(ev.DeltaY)
	return s.run(ctx, inputTimeout, p)
}

func (s *CDPSurface) InjectKeyEvent(ctx context.Context, ev KeyEvent) error {
	var cdpModifiers input.Modifier
	if ev.Modifiers&ModAlt != 0 {
		cdpModifiers |= input.ModifierAlt
	}
	if ev.Modifiers&ModCtrl != 0 {
		cdpModifiers |= input.ModifierCtrl
	}
	if ev.Modifiers&ModMeta != 0 {
		cdpModifiers |= input.ModifierMeta
	}
	if ev.Modifiers&ModShift != 0 {
		cdpModifiers |= input.ModifierShift
	}

	p := input.DispatchKeyEvent(input.KeyType(ev.Type)).
		WithModifiers(cdpModifiers).
		WithKey(ev.Key)
	if ev.Text != "" {
		p = p.WithText(ev.Text)
	}
	return s.run(ctx, inputTimeout, p)
}

func (s *CDPSurface) InsertText(ctx context.Context, text string) error {
	return s.run(ctx, inputTimeout, input.InsertText(text))
}

func (s *CDPSurface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, navigateTimeout, chromedp.Navigate(url))
}

func (s *CDPSurface) GoBack(ctx context.Context) error {
	return s.run(ctx, navigateTimeout, chromedp.NavigateBack())
}

func (s *CDPSurface) GoForward(ctx context.Context) error {
	return s.run(ctx, navigateTimeout, chromedp.NavigateForward())
}

func (s *CDPSurface) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, inputTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to get URL: %w", err)
	}
	return url, nil
}

func (s *CDPSurface) RunScript(ctx context.Context, code string) (json.RawMessage, error) {
	var res json.RawMessage
	err := s.run(ctx, scriptTimeout,
		chromedp.Evaluate(code, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res, nil
}

func (s *CDPSurface) IsLoading(ctx context.Context) (bool, error) {
	state, err := s.DocumentReadyState(ctx)
	if err != nil {
		return false, err
	}
	return state != "complete", nil
}

func (s *CDPSurface) DocumentReadyState(ctx context.Context) (string, error) {
	res, err := s.RunScript(ctx, "document.readyState")
	if err != nil {
		return "", err
	}
	var state string
	if err := json.Unmarshal(res, &state); err != nil {
		return "", fmt.Errorf("unexpected readyState payload %s: %w", string(res), err)
	}
	return state, nil
}

func (s *CDPSurface) Viewport(ctx context.Context) (schemas.Viewport, error) {
	var vp schemas.Viewport
	err := s.run(ctx, inputTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		vp = schemas.Viewport{
			Width:  cssVisualViewport.ClientWidth,
			Height: cssVisualViewport.ClientHeight,
		}
		return nil
	}))
	if err != nil {
		return schemas.Viewport{}, fmt.Errorf("failed to read layout metrics: %w", err)
	}
	return vp, nil
}

func (s *CDPSurface) DevicePixelRatio(ctx context.Context) (float64, error) {
	res, err := s.RunScript(ctx, "window.devicePixelRatio")
	if err != nil {
		return 0, err
	}
	var dpr float64
	if err := json.Unmarshal(res, &dpr); err != nil {
		return 0, fmt.Errorf("unexpected devicePixelRatio payload %s: %w", string(res), err)
	}
	if dpr <= 0 {
		dpr = 1
	}
	return dpr, nil
}

// Close tears down the tab and the browser process.
func (s *CDPSurface) Close() {
	s.logger.Info("Closing browser surface")
	s.tabCancel()
	s.allocCancel()
}

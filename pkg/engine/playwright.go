package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/capture/pkg/logging"
)

// Config configures the Playwright-backed engine.
type Config struct {
	// ExecutablePath points at a Chromium binary. Empty uses the one
	// managed by Playwright.
	ExecutablePath string `yaml:"executable_path" json:"executable_path"`

	// DebugPort is exposed with --remote-debugging-port so the audit
	// engine can attach. Zero disables it.
	DebugPort int `yaml:"debug_port" json:"debug_port"`

	// Headless runs Chromium without a window.
	Headless bool `yaml:"headless" json:"headless"`

	// InstallBrowsers downloads the Playwright driver and Chromium on Start.
	InstallBrowsers bool `yaml:"install_browsers" json:"install_browsers"`

	// DefaultViewport is used when a context asks for a zero viewport.
	DefaultViewport Viewport `yaml:"default_viewport" json:"default_viewport"`

	// Args are appended to the Chromium command line.
	Args []string `yaml:"args" json:"args"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DebugPort:       9222,
		Headless:        true,
		DefaultViewport: Viewport{Width: 1280, Height: 720},
	}
}

// Playwright is the Engine backed by a single Chromium instance driven
// through Playwright.
type Playwright struct {
	cfg Config
	log *logging.Logger

	mu      sync.RWMutex
	pw      *playwright.Playwright
	browser playwright.Browser
	started bool
	closed  bool

	connected atomic.Bool
}

// NewPlaywright creates an engine handle. Call Start before use.
func NewPlaywright(cfg Config, log *logging.Logger) *Playwright {
	if cfg.DefaultViewport.Width == 0 || cfg.DefaultViewport.Height == 0 {
		cfg.DefaultViewport = DefaultConfig().DefaultViewport
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Playwright{cfg: cfg, log: log.Named("engine")}
}

// Start runs the Playwright driver and launches Chromium. It may be called
// once; a failure leaves the handle unusable and the process should exit.
func (p *Playwright) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	if err := ctx.Err(); err != nil {
		return err
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if p.cfg.InstallBrowsers {
		p.log.Infof("installing playwright driver and chromium")
		if err := playwright.Install(runOpts); err != nil {
			return &Error{Op: "install", Err: err}
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return &Error{Op: "run driver", Err: err}
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.cfg.Headless),
		Args:     p.launchArgs(),
	}
	if p.cfg.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(p.cfg.ExecutablePath)
	}

	p.log.Infof("chromium starting (debug port %d)", p.cfg.DebugPort)
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return &Error{Op: "launch", Err: err}
	}

	browser.OnDisconnected(func(playwright.Browser) {
		p.connected.Store(false)
		p.log.Errorf("chromium disconnected")
	})

	p.pw = pw
	p.browser = browser
	p.connected.Store(true)
	p.log.Infof("chromium started (version %s)", browser.Version())
	return nil
}

func (p *Playwright) launchArgs() []string {
	args := make([]string, 0, len(p.cfg.Args)+1)
	if p.cfg.DebugPort > 0 {
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", p.cfg.DebugPort))
	}
	return append(args, p.cfg.Args...)
}

// DebugPort returns the remote debugging port Chromium listens on.
func (p *Playwright) DebugPort() int {
	return p.cfg.DebugPort
}

// IsAlive reports whether Chromium is connected.
func (p *Playwright) IsAlive() bool {
	if !p.connected.Load() {
		return false
	}
	p.mu.RLock()
	b := p.browser
	p.mu.RUnlock()
	return b != nil && b.IsConnected()
}

// NewIsolatedContext creates a browser context configured by opts.
func (p *Playwright) NewIsolatedContext(ctx context.Context, opts ContextOptions) (IsolatedContext, error) {
	p.mu.RLock()
	b, closed := p.browser, p.closed
	p.mu.RUnlock()

	switch {
	case b == nil:
		return nil, &Error{Op: "new context", Err: ErrNotStarted}
	case closed || !b.IsConnected():
		return nil, &Error{Op: "new context", Err: ErrDisconnected}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := b.NewContext(p.contextOptions(opts))
	if err != nil {
		if !b.IsConnected() {
			return nil, &Error{Op: "new context", Err: fmt.Errorf("%w: %v", ErrDisconnected, err)}
		}
		return nil, &Error{Op: "new context", Err: err}
	}
	return &pwContext{ctx: bctx}, nil
}

func (p *Playwright) contextOptions(opts ContextOptions) playwright.BrowserNewContextOptions {
	viewport := opts.Viewport
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = p.cfg.DefaultViewport
	}

	o := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
		HasTouch: playwright.Bool(opts.HasTouch),
		IsMobile: playwright.Bool(opts.IsMobile),
	}

	if opts.ColorScheme != "" {
		scheme := playwright.ColorScheme(opts.ColorScheme)
		o.ColorScheme = &scheme
	}
	if opts.DeviceScaleFactor > 0 {
		o.DeviceScaleFactor = playwright.Float(opts.DeviceScaleFactor)
	}
	if opts.Locale != "" {
		o.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		o.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.UserAgent != "" {
		o.UserAgent = playwright.String(opts.UserAgent)
	}
	if g := opts.Geolocation; g != nil {
		o.Geolocation = &playwright.Geolocation{
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Accuracy:  g.Accuracy,
		}
	}
	return o
}

// Close shuts Chromium and the driver down. Safe to call multiple times.
func (p *Playwright) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.connected.Store(false)

	var errs []error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop driver: %w", err))
		}
	}
	p.log.Infof("chromium stopped")
	return errors.Join(errs...)
}

type pwContext struct {
	ctx playwright.BrowserContext
}

func (c *pwContext) GrantPermissions(permissions []string, origin string) error {
	return c.ctx.GrantPermissions(permissions, playwright.BrowserContextGrantPermissionsOptions{
		Origin: playwright.String(origin),
	})
}

func (c *pwContext) NewPage() (Page, error) {
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{page: page, ctx: c.ctx}, nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
	ctx  playwright.BrowserContext
}

func (p *pwPage) Route(pattern string, handler RouteHandler) error {
	return p.page.Route(pattern, func(route playwright.Route) {
		handler(&pwRoute{route: route})
	})
}

func (p *pwPage) Goto(url string, opts GotoOptions) error {
	gotoOpts := playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(opts.Timeout.Milliseconds())),
	}
	if opts.WaitUntil != "" {
		state := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &state
	}
	_, err := p.page.Goto(url, gotoOpts)
	return translate(err)
}

func (p *pwPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	if opts.Format == "webp" {
		// Playwright only encodes png and jpeg; the DevTools protocol does webp.
		return p.screenshotCDP(opts)
	}

	shotType := playwright.ScreenshotType(opts.Format)
	shotOpts := playwright.PageScreenshotOptions{
		Type:     &shotType,
		FullPage: playwright.Bool(opts.FullPage),
		Quality:  opts.Quality,
	}
	if c := opts.Clip; c != nil {
		shotOpts.Clip = &playwright.Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
	}

	data, err := p.page.Screenshot(shotOpts)
	return data, translate(err)
}

func (p *pwPage) screenshotCDP(opts ScreenshotOptions) ([]byte, error) {
	session, err := p.ctx.NewCDPSession(p.page)
	if err != nil {
		return nil, fmt.Errorf("open devtools session: %w", err)
	}
	defer session.Detach() //nolint:errcheck

	params := map[string]interface{}{
		"format":      "webp",
		"fromSurface": true,
	}
	if opts.Quality != nil {
		params["quality"] = *opts.Quality
	}

	switch {
	case opts.Clip != nil:
		params["captureBeyondViewport"] = true
		params["clip"] = cdpClip(opts.Clip.X, opts.Clip.Y, opts.Clip.Width, opts.Clip.Height)
	case opts.FullPage:
		metrics, err := session.Send("Page.getLayoutMetrics", nil)
		if err != nil {
			return nil, fmt.Errorf("layout metrics: %w", err)
		}
		width, height, err := contentSize(metrics)
		if err != nil {
			return nil, err
		}
		params["captureBeyondViewport"] = true
		params["clip"] = cdpClip(0, 0, width, height)
	}

	res, err := session.Send("Page.captureScreenshot", params)
	if err != nil {
		return nil, translate(err)
	}
	m, ok := res.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected captureScreenshot result %T", res)
	}
	encoded, ok := m["data"].(string)
	if !ok {
		return nil, errors.New("captureScreenshot returned no data")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func cdpClip(x, y, width, height float64) map[string]interface{} {
	return map[string]interface{}{
		"x":      x,
		"y":      y,
		"width":  width,
		"height": height,
		"scale":  1,
	}
}

func contentSize(metrics interface{}) (float64, float64, error) {
	m, ok := metrics.(map[string]interface{})
	if !ok {
		return 0, 0, fmt.Errorf("unexpected layout metrics %T", metrics)
	}
	for _, key := range []string{"cssContentSize", "contentSize"} {
		size, ok := m[key].(map[string]interface{})
		if !ok {
			continue
		}
		width, wok := size["width"].(float64)
		height, hok := size["height"].(float64)
		if wok && hok {
			return width, height, nil
		}
	}
	return 0, 0, errors.New("layout metrics carry no content size")
}

func (p *pwPage) Evaluate(expression string) (any, error) {
	return p.page.Evaluate(expression)
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

type pwRoute struct {
	route playwright.Route
}

func (r *pwRoute) URL() string {
	return r.route.Request().URL()
}

func (r *pwRoute) Headers() map[string]string {
	return r.route.Request().Headers()
}

func (r *pwRoute) Continue(headers map[string]string) error {
	if headers == nil {
		return r.route.Continue()
	}
	return r.route.Continue(playwright.RouteContinueOptions{Headers: headers})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

var _ Engine = (*Playwright)(nil)

// Package enginetest provides an in-memory engine.Engine for tests. It
// counts context acquisition and release, records every call the service
// makes, and can fail any step on demand.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/capture/pkg/engine"
)

// Failures selects which engine calls return an error.
type Failures struct {
	NewContext error
	Grant      error
	NewPage    error
	Route      error
	Goto       error
	Screenshot error
	Evaluate   error
	Close      error
}

// Subrequest is an outbound request a fake page issues while navigating.
type Subrequest struct {
	URL     string
	Headers map[string]string
}

// Engine is a fake engine.Engine.
type Engine struct {
	mu sync.Mutex

	alive    bool
	failures Failures

	// ContentHeight is the document height used for full-page captures.
	contentHeight int
	subrequests   []Subrequest
	evalResult    any
	gotoHook      func(ctx *Context)

	acquired int
	released int
	contexts []*Context
}

// New returns a connected fake engine.
func New() *Engine {
	return &Engine{
		alive:         true,
		contentHeight: 2000,
		evalResult:    "2026-01-01T00:00:00.000Z",
	}
}

// SetAlive flips the connectivity reported by IsAlive and NewIsolatedContext.
func (e *Engine) SetAlive(alive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alive = alive
}

// Fail installs failures for subsequent calls.
func (e *Engine) Fail(f Failures) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = f
}

// SetSubrequests makes every navigation issue reqs through the page's routes.
func (e *Engine) SetSubrequests(reqs ...Subrequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subrequests = reqs
}

// SetContentHeight sets the document height for full-page captures.
func (e *Engine) SetContentHeight(h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contentHeight = h
}

// SetEvaluateResult sets the value returned by Page.Evaluate.
func (e *Engine) SetEvaluateResult(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evalResult = v
}

// OnGoto runs hook inside every navigation, before it completes.
func (e *Engine) OnGoto(hook func(ctx *Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gotoHook = hook
}

// Acquired returns how many contexts were created.
func (e *Engine) Acquired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired
}

// Released returns how many contexts were closed (first close only).
func (e *Engine) Released() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// Open returns how many contexts are currently held.
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired - e.released
}

// Contexts returns every context created so far.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

// LastContext returns the most recently created context, or nil.
func (e *Engine) LastContext() *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.contexts) == 0 {
		return nil
	}
	return e.contexts[len(e.contexts)-1]
}

// IsAlive implements engine.Engine.
func (e *Engine) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

// NewIsolatedContext implements engine.Engine.
func (e *Engine) NewIsolatedContext(ctx context.Context, opts engine.ContextOptions) (engine.IsolatedContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.alive {
		return nil, &engine.Error{Op: "new context", Err: engine.ErrDisconnected}
	}
	if e.failures.NewContext != nil {
		return nil, e.failures.NewContext
	}

	c := &Context{engine: e, Options: opts}
	e.acquired++
	e.contexts = append(e.contexts, c)
	return c, nil
}

// Grant records one GrantPermissions call.
type Grant struct {
	Permissions []string
	Origin      string
}

// Context is a fake engine.IsolatedContext.
type Context struct {
	engine *Engine

	Options engine.ContextOptions

	mu     sync.Mutex
	grants []Grant
	pages  []*Page
	closes int
}

// GrantPermissions implements engine.IsolatedContext.
func (c *Context) GrantPermissions(permissions []string, origin string) error {
	if err := c.engine.failure(func(f Failures) error { return f.Grant }); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grants = append(c.grants, Grant{Permissions: append([]string(nil), permissions...), Origin: origin})
	return nil
}

// NewPage implements engine.IsolatedContext.
func (c *Context) NewPage() (engine.Page, error) {
	if err := c.engine.failure(func(f Failures) error { return f.NewPage }); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Page{ctx: c, url: "about:blank"}
	c.pages = append(c.pages, p)
	return p, nil
}

// Close implements engine.IsolatedContext. Only the first call counts as
// a release; later calls are recorded in CloseCount.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closes++
	first := c.closes == 1
	c.mu.Unlock()

	e := c.engine
	e.mu.Lock()
	if first {
		e.released++
	}
	err := e.failures.Close
	e.mu.Unlock()
	return err
}

// CloseCount returns how many times Close was called.
func (c *Context) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Grants returns the recorded permission grants.
func (c *Context) Grants() []Grant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Grant(nil), c.grants...)
}

// Pages returns the pages opened in this context.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

// Page is a fake engine.Page. Screenshots are synthetic buffers whose
// length grows with the captured area.
type Page struct {
	ctx *Context

	mu       sync.Mutex
	url      string
	patterns []string
	handlers []engine.RouteHandler
	gotos    []engine.GotoOptions
	shots    []engine.ScreenshotOptions
	requests []*Request
}

// Route implements engine.Page. Every pattern matches every URL.
func (p *Page) Route(pattern string, handler engine.RouteHandler) error {
	if err := p.ctx.engine.failure(func(f Failures) error { return f.Route }); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = append(p.patterns, pattern)
	p.handlers = append(p.handlers, handler)
	return nil
}

// Goto implements engine.Page.
func (p *Page) Goto(url string, opts engine.GotoOptions) error {
	e := p.ctx.engine
	e.mu.Lock()
	fail, subs, hook := e.failures.Goto, e.subrequests, e.gotoHook
	e.mu.Unlock()

	p.mu.Lock()
	p.gotos = append(p.gotos, opts)
	p.mu.Unlock()

	if hook != nil {
		hook(p.ctx)
	}

	p.Dispatch(url, map[string]string{"accept": "text/html"})
	for _, s := range subs {
		p.Dispatch(s.URL, s.Headers)
	}

	if fail != nil {
		return fail
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

// Dispatch sends an outbound request through the installed routes and
// returns it for inspection.
func (p *Page) Dispatch(url string, headers map[string]string) *Request {
	orig := make(map[string]string, len(headers))
	for k, v := range headers {
		orig[k] = v
	}
	req := &Request{url: url, headers: orig}

	p.mu.Lock()
	handlers := append([]engine.RouteHandler(nil), p.handlers...)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if len(handlers) == 0 {
		req.finish(nil)
		return req
	}
	// The most recently installed route wins, as in Playwright.
	handlers[len(handlers)-1](req)
	return req
}

// Screenshot implements engine.Page.
func (p *Page) Screenshot(opts engine.ScreenshotOptions) ([]byte, error) {
	e := p.ctx.engine
	e.mu.Lock()
	fail, contentHeight := e.failures.Screenshot, e.contentHeight
	e.mu.Unlock()

	p.mu.Lock()
	p.shots = append(p.shots, opts)
	p.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	vp := p.ctx.Options.Viewport
	width, height := float64(vp.Width), float64(vp.Height)
	switch {
	case opts.Clip != nil:
		width, height = opts.Clip.Width, opts.Clip.Height
	case opts.FullPage && float64(contentHeight) > height:
		height = float64(contentHeight)
	}
	return make([]byte, int(width*height)/64+1), nil
}

// Evaluate implements engine.Page.
func (p *Page) Evaluate(string) (any, error) {
	e := p.ctx.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures.Evaluate != nil {
		return nil, e.failures.Evaluate
	}
	return e.evalResult, nil
}

// URL implements engine.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Patterns returns the route patterns installed on the page.
func (p *Page) Patterns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.patterns...)
}

// Gotos returns the options of every navigation.
func (p *Page) Gotos() []engine.GotoOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.GotoOptions(nil), p.gotos...)
}

// Shots returns the options of every screenshot call.
func (p *Page) Shots() []engine.ScreenshotOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.ScreenshotOptions(nil), p.shots...)
}

// Requests returns every request dispatched through the page.
func (p *Page) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Request(nil), p.requests...)
}

// Request is a fake engine.InterceptedRequest.
type Request struct {
	url     string
	headers map[string]string

	mu        sync.Mutex
	continued int
	sent      map[string]string
}

// URL implements engine.InterceptedRequest.
func (r *Request) URL() string { return r.url }

// Headers implements engine.InterceptedRequest. The map is a copy.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// Continue implements engine.InterceptedRequest.
func (r *Request) Continue(headers map[string]string) error {
	r.finish(headers)
	return nil
}

func (r *Request) finish(headers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.continued++
	if headers == nil {
		r.sent = r.Headers()
		return
	}
	r.sent = headers
}

// Continued returns how many times the request was resumed.
func (r *Request) Continued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.continued
}

// SentHeaders returns the headers the request went out with.
func (r *Request) SentHeaders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (e *Engine) failure(pick func(Failures) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pick(e.failures)
}

// ErrInjected is a convenient failure value for tests.
var ErrInjected = errors.New("enginetest: injected failure")

var (
	_ engine.Engine             = (*Engine)(nil)
	_ engine.IsolatedContext    = (*Context)(nil)
	_ engine.Page               = (*Page)(nil)
	_ engine.InterceptedRequest = (*Request)(nil)
)

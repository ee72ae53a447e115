// Package engine provides the process-wide handle to the browser
// automation engine and the narrow interfaces the rest of the service
// drives it through.
//
// # Lifecycle
//
// A handle is constructed explicitly, started exactly once, shared by every
// in-flight request, and closed on shutdown:
//
//	eng := engine.NewPlaywright(cfg, logger)
//	if err := eng.Start(ctx); err != nil {
//	    // the process cannot serve traffic
//	}
//	defer eng.Close()
//
//	ictx, err := eng.NewIsolatedContext(ctx, engine.ContextOptions{...})
//	page, err := ictx.NewPage()
//	...
//	ictx.Close()
//
// Every isolated context consumes engine-side resources until it is closed.
// Callers normally go through session.Manager, which guarantees the close.
package engine

import (
	"context"
)

// Engine is the shared automation engine.
type Engine interface {
	// NewIsolatedContext creates a sandboxed browsing session. It fails
	// with an *Error wrapping ErrDisconnected when the engine is gone.
	NewIsolatedContext(ctx context.Context, opts ContextOptions) (IsolatedContext, error)

	// IsAlive reports engine connectivity without blocking.
	IsAlive() bool
}

// IsolatedContext is a sandbox bound to exactly one request.
type IsolatedContext interface {
	// GrantPermissions grants capabilities scoped to origin.
	GrantPermissions(permissions []string, origin string) error

	// NewPage opens a page inside the context.
	NewPage() (Page, error)

	// Close releases the context and every page in it.
	Close() error
}

// Page is a single tab inside an isolated context.
type Page interface {
	// Route installs handler for every request whose URL matches pattern.
	Route(pattern string, handler RouteHandler) error

	// Goto navigates and waits for opts.WaitUntil. A timeout is reported
	// as an error matching ErrTimeout.
	Goto(url string, opts GotoOptions) error

	// Screenshot rasterizes the page.
	Screenshot(opts ScreenshotOptions) ([]byte, error)

	// Evaluate runs a JavaScript expression in the page.
	Evaluate(expression string) (any, error)

	// URL returns the page's current URL.
	URL() string
}

// RouteHandler decides what happens to one intercepted request.
type RouteHandler func(req InterceptedRequest)

// InterceptedRequest is an outbound request paused by a route.
type InterceptedRequest interface {
	URL() string
	Headers() map[string]string

	// Continue resumes the request. A nil map keeps the original headers.
	Continue(headers map[string]string) error
}

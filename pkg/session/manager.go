// Package session scopes isolated engine contexts to a single request.
//
// WithContext is the only way the service acquires a context: it creates
// the context, grants permissions, opens a page, runs the caller's body,
// and closes the context exactly once on every return path, including
// errors and panics raised by the body. A leaked context degrades the
// shared engine for every later request, so nothing else in the service
// calls Close on a context directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
)

// ErrCapacity is returned when no context slot frees up before the
// caller's context is done.
var ErrCapacity = errors.New("session: no free engine context")

// Options describe the context a request runs in.
type Options struct {
	Context engine.ContextOptions

	// Permissions are granted to the origin of Origin when non-empty.
	Permissions []string
	Origin      string
}

// Body runs with the request's page. The page must not escape the call.
type Body func(ctx context.Context, page engine.Page) error

// Manager hands out isolated contexts from a shared engine.
type Manager struct {
	engine engine.Engine
	log    *logging.Logger
	slots  *semaphore.Weighted

	active atomic.Int64
}

// NewManager creates a Manager. maxContexts bounds how many contexts may
// be open at once; zero or less means unbounded.
func NewManager(eng engine.Engine, maxContexts int, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	m := &Manager{engine: eng, log: log.Named("session")}
	if maxContexts > 0 {
		m.slots = semaphore.NewWeighted(int64(maxContexts))
	}
	return m
}

// Active returns the number of contexts currently held.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Alive reports engine connectivity.
func (m *Manager) Alive() bool {
	return m.engine.IsAlive()
}

// WithContext acquires a context configured by opts, runs body with a
// fresh page, and releases the context before returning. A release
// failure is logged and never replaces the error returned by an earlier
// step.
func (m *Manager) WithContext(ctx context.Context, opts Options, body Body) (err error) {
	if m.slots != nil {
		if acqErr := m.slots.Acquire(ctx, 1); acqErr != nil {
			return fmt.Errorf("%w: %w", ErrCapacity, acqErr)
		}
		defer m.slots.Release(1)
	}

	ictx, err := m.engine.NewIsolatedContext(ctx, opts.Context)
	if err != nil {
		return err
	}
	m.active.Add(1)

	release := m.releaser(ictx)
	defer release()
	defer func() { err = m.engineFailure(err) }()

	if len(opts.Permissions) > 0 {
		origin, oerr := originOf(opts.Origin)
		if oerr != nil {
			return oerr
		}
		if gerr := ictx.GrantPermissions(opts.Permissions, origin); gerr != nil {
			return fmt.Errorf("grant permissions: %w", gerr)
		}
	}

	page, err := ictx.NewPage()
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	return body(ctx, page)
}

// engineFailure reports err as an engine failure when the engine went away
// while the request held its context.
func (m *Manager) engineFailure(err error) error {
	var engErr *engine.Error
	if err == nil || errors.As(err, &engErr) || m.engine.IsAlive() {
		return err
	}
	return &engine.Error{Op: "request", Err: fmt.Errorf("%w: %w", engine.ErrDisconnected, err)}
}

// releaser returns a function that closes ictx on its first call only.
func (m *Manager) releaser(ictx engine.IsolatedContext) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.active.Add(-1)
			if err := ictx.Close(); err != nil {
				m.log.Warnf("context release failed: %v", err)
				return
			}
			m.log.Debugf("context released")
		})
	}
}

// originOf reduces a URL to scheme://host[:port].
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("permission origin %q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Package pipeline runs one capture request end to end: acquire an
// isolated context, install header interception, navigate, capture, and
// release the context.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/capture/pkg/audit"
	"github.com/entrhq/capture/pkg/capture"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/intercept"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/navigate"
	"github.com/entrhq/capture/pkg/request"
	"github.com/entrhq/capture/pkg/session"
)

// Pipeline executes validated requests against the shared engine.
type Pipeline struct {
	sessions *session.Manager
	filter   *intercept.Filter
	auditor  audit.Auditor
	log      *logging.Logger
}

// New creates a Pipeline. A nil filter trusts the default origins.
func New(sessions *session.Manager, filter *intercept.Filter, auditor audit.Auditor, log *logging.Logger) *Pipeline {
	if filter == nil {
		filter = intercept.MustFilter(intercept.DefaultTrustedOrigins)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{sessions: sessions, filter: filter, auditor: auditor, log: log.Named("pipeline")}
}

// Sessions returns the context manager the pipeline runs on.
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Screenshot captures req.URL as an image.
func (p *Pipeline) Screenshot(ctx context.Context, req *request.Screenshot) (*capture.Image, error) {
	var img *capture.Image
	err := p.sessions.WithContext(ctx, screenshotSession(req), func(ctx context.Context, page engine.Page) error {
		if err := p.load(ctx, page, &req.Common); err != nil {
			return err
		}
		if err := navigate.Settle(ctx, req.Sleep); err != nil {
			return &navigate.Error{URL: req.URL, Err: fmt.Errorf("settle: %w", err)}
		}

		var err error
		img, err = capture.Screenshot(ctx, page, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.log.Debugf("captured %s (%s, %d bytes)", req.URL, img.MIMEType, len(img.Data))
	return img, nil
}

// Report audits req.URL.
func (p *Pipeline) Report(ctx context.Context, req *request.Audit) (*audit.Report, error) {
	var report *audit.Report
	err := p.sessions.WithContext(ctx, auditSession(req), func(ctx context.Context, page engine.Page) error {
		if err := p.load(ctx, page, &req.Common); err != nil {
			return err
		}

		var err error
		report, err = p.auditor.Audit(ctx, page, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.log.Debugf("audited %s (%d categories)", req.URL, len(report.Scores))
	return report, nil
}

// Probe opens a default context on a blank page and returns the page's
// clock as an ISO-8601 string.
func (p *Pipeline) Probe(ctx context.Context) (string, error) {
	var stamp string
	err := p.sessions.WithContext(ctx, session.Options{}, func(ctx context.Context, page engine.Page) error {
		if err := navigate.Goto(ctx, page, "about:blank", "", 0); err != nil {
			return err
		}
		v, err := page.Evaluate("() => new Date().toISOString()")
		if err != nil {
			return fmt.Errorf("evaluate page clock: %w", err)
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("page clock returned %T", v)
		}
		stamp = s
		return nil
	})
	return stamp, err
}

// load installs interception and navigates.
func (p *Pipeline) load(ctx context.Context, page engine.Page, c *request.Common) error {
	if err := intercept.Install(page, p.filter, c.Headers); err != nil {
		return err
	}

	start := time.Now()
	if err := navigate.Goto(ctx, page, c.URL, string(c.WaitUntil), c.Timeout); err != nil {
		return err
	}
	p.log.Debugf("navigated to %s in %s", c.URL, time.Since(start).Round(time.Millisecond))
	return nil
}

func screenshotSession(req *request.Screenshot) session.Options {
	opts := baseSession(&req.Common)
	opts.Context.Viewport = engine.Viewport{Width: req.Viewport.Width, Height: req.Viewport.Height}
	opts.Context.DeviceScaleFactor = req.DeviceScaleFactor
	opts.Context.HasTouch = req.HasTouch
	opts.Context.IsMobile = req.IsMobile
	if g := req.Geolocation; g != nil {
		opts.Context.Geolocation = &engine.Geolocation{
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Accuracy:  g.Accuracy,
		}
	}
	return opts
}

// auditSession leaves the viewport to the engine default; the audit
// preset decides the emulated device.
func auditSession(req *request.Audit) session.Options {
	return baseSession(&req.Common)
}

func baseSession(c *request.Common) session.Options {
	perms := make([]string, len(c.Permissions))
	for i, p := range c.Permissions {
		perms[i] = string(p)
	}
	return session.Options{
		Context: engine.ContextOptions{
			ColorScheme: string(c.Theme),
			Locale:      c.Locale,
			TimezoneID:  c.TimezoneID,
			UserAgent:   c.UserAgent,
		},
		Permissions: perms,
		Origin:      c.URL,
	}
}

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/capture/pkg/audit"
	"github.com/entrhq/capture/pkg/capture"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/engine/enginetest"
	"github.com/entrhq/capture/pkg/intercept"
	"github.com/entrhq/capture/pkg/navigate"
	"github.com/entrhq/capture/pkg/request"
	"github.com/entrhq/capture/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubAuditor struct {
	err    error
	called int
	url    string
}

func (s *stubAuditor) Audit(_ context.Context, page engine.Page, _ *request.Audit) (*audit.Report, error) {
	s.called++
	s.url = page.URL()
	if s.err != nil {
		return nil, s.err
	}
	return &audit.Report{
		LHR:      []byte(`{"categories":{"performance":{"id":"performance","score":0.9}}}`),
		Scores:   map[string]float64{"performance": 90},
		Rendered: map[string]string{},
	}, nil
}

func newPipeline(eng *enginetest.Engine, auditor audit.Auditor) *Pipeline {
	return New(session.NewManager(eng, 4, nil), nil, auditor, nil)
}

func screenshotReq(t *testing.T, body string) *request.Screenshot {
	t.Helper()
	req, err := request.ParseScreenshot([]byte(body))
	require.NoError(t, err)
	return req
}

func auditReq(t *testing.T, body string) *request.Audit {
	t.Helper()
	req, err := request.ParseAudit([]byte(body))
	require.NoError(t, err)
	return req
}

func TestScreenshot_Success(t *testing.T) {
	eng := enginetest.New()
	p := newPipeline(eng, &stubAuditor{})

	req := screenshotReq(t, `{
		"url": "https://example.com",
		"theme": "dark",
		"viewport": {"width": 800, "height": 600},
		"format": "webp",
		"quality": 70,
		"sleep": 0,
		"waitUntil": "load",
		"timeout": 5000,
		"deviceScaleFactor": 2,
		"isMobile": true,
		"geolocation": {"latitude": 52.5, "longitude": 13.4},
		"permissions": ["geolocation"]
	}`)

	img, err := p.Screenshot(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", img.MIMEType)
	assert.NotEmpty(t, img.Data)

	ictx := eng.LastContext()
	assert.Equal(t, engine.ContextOptions{
		Viewport:          engine.Viewport{Width: 800, Height: 600},
		ColorScheme:       "dark",
		DeviceScaleFactor: 2,
		IsMobile:          true,
		Geolocation:       &engine.Geolocation{Latitude: 52.5, Longitude: 13.4},
	}, ictx.Options)
	assert.Equal(t, []enginetest.Grant{{Permissions: []string{"geolocation"}, Origin: "https://example.com"}}, ictx.Grants())

	page := ictx.Pages()[0]
	require.Len(t, page.Gotos(), 1)
	assert.Equal(t, "load", page.Gotos()[0].WaitUntil)
	assert.Empty(t, page.Patterns(), "no headers means no interception")

	assert.Equal(t, 1, eng.Acquired())
	assert.Equal(t, 1, eng.Released())
}

func TestScreenshot_InstallsInterceptionBeforeNavigation(t *testing.T) {
	eng := enginetest.New()
	eng.SetSubrequests(enginetest.Subrequest{URL: "http://appwrite/v1/avatars", Headers: map[string]string{}})
	p := newPipeline(eng, &stubAuditor{})

	req := screenshotReq(t, `{"url":"https://example.com","sleep":0,"headers":{"X-Appwrite-Project":"console"}}`)
	_, err := p.Screenshot(context.Background(), req)
	require.NoError(t, err)

	page := eng.LastContext().Pages()[0]
	assert.Equal(t, []string{intercept.RoutePattern}, page.Patterns())

	reqs := page.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, map[string]string{"accept": "text/html"}, reqs[0].SentHeaders())
	assert.Equal(t, map[string]string{"X-Appwrite-Project": "console"}, reqs[1].SentHeaders())
}

func TestScreenshot_ReleasesOnEveryFailure(t *testing.T) {
	tests := []struct {
		name     string
		failures enginetest.Failures
		body     string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "grant",
			failures: enginetest.Failures{Grant: enginetest.ErrInjected},
			body:     `{"url":"https://example.com","sleep":0,"permissions":["camera"]}`,
		},
		{
			name:     "page",
			failures: enginetest.Failures{NewPage: enginetest.ErrInjected},
		},
		{
			name:     "route",
			failures: enginetest.Failures{Route: enginetest.ErrInjected},
			body:     `{"url":"https://example.com","sleep":0,"headers":{"a":"b"}}`,
		},
		{
			name:     "navigation",
			failures: enginetest.Failures{Goto: enginetest.ErrInjected},
			check: func(t *testing.T, err error) {
				var navErr *navigate.Error
				assert.ErrorAs(t, err, &navErr)
			},
		},
		{
			name:     "navigation timeout",
			failures: enginetest.Failures{Goto: engine.ErrTimeout},
			check: func(t *testing.T, err error) {
				var timeoutErr *navigate.TimeoutError
				assert.ErrorAs(t, err, &timeoutErr)
			},
		},
		{
			name:     "capture",
			failures: enginetest.Failures{Screenshot: enginetest.ErrInjected},
			check: func(t *testing.T, err error) {
				var capErr *capture.Error
				assert.ErrorAs(t, err, &capErr)
			},
		},
		{
			name:     "capture and release",
			failures: enginetest.Failures{Screenshot: enginetest.ErrInjected, Close: errors.New("close failed")},
			check: func(t *testing.T, err error) {
				var capErr *capture.Error
				assert.ErrorAs(t, err, &capErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			eng.Fail(tt.failures)
			p := newPipeline(eng, &stubAuditor{})

			body := tt.body
			if body == "" {
				body = `{"url":"https://example.com","sleep":0}`
			}

			_, err := p.Screenshot(context.Background(), screenshotReq(t, body))
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			} else {
				assert.ErrorIs(t, err, enginetest.ErrInjected)
			}

			assert.Equal(t, 1, eng.Acquired())
			assert.Equal(t, 1, eng.Released())
			assert.Equal(t, 0, p.Sessions().Active())
		})
	}
}

func TestScreenshot_DisconnectedEngine(t *testing.T) {
	eng := enginetest.New()
	eng.SetAlive(false)
	p := newPipeline(eng, &stubAuditor{})

	_, err := p.Screenshot(context.Background(), screenshotReq(t, `{"url":"https://example.com","sleep":0}`))

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 0, eng.Acquired())
	assert.Equal(t, 0, eng.Released())
}

func TestScreenshot_CancelledDuringSettle(t *testing.T) {
	eng := enginetest.New()
	p := newPipeline(eng, &stubAuditor{})

	ctx, cancel := context.WithCancel(context.Background())
	eng.OnGoto(func(*enginetest.Context) { cancel() })

	_, err := p.Screenshot(ctx, screenshotReq(t, `{"url":"https://example.com","sleep":60000}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, eng.Released())
}

func TestReport_Success(t *testing.T) {
	eng := enginetest.New()
	auditor := &stubAuditor{}
	p := newPipeline(eng, auditor)

	req := auditReq(t, `{"url":"https://example.com","viewport":"desktop","theme":"dark","locale":"de-DE","timezoneId":"Europe/Berlin"}`)
	report, err := p.Report(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, float64(90), report.Scores["performance"])

	assert.Equal(t, 1, auditor.called)
	assert.Equal(t, "https://example.com", auditor.url)

	opts := eng.LastContext().Options
	assert.Equal(t, engine.Viewport{}, opts.Viewport, "audit contexts use the engine default viewport")
	assert.Equal(t, "dark", opts.ColorScheme)
	assert.Equal(t, "de-DE", opts.Locale)
	assert.Equal(t, "Europe/Berlin", opts.TimezoneID)

	page := eng.LastContext().Pages()[0]
	assert.Equal(t, "domcontentloaded", page.Gotos()[0].WaitUntil)

	assert.Equal(t, 1, eng.Released())
}

func TestReport_ReleasesOnFailure(t *testing.T) {
	t.Run("navigation", func(t *testing.T) {
		eng := enginetest.New()
		eng.Fail(enginetest.Failures{Goto: enginetest.ErrInjected})
		auditor := &stubAuditor{}
		p := newPipeline(eng, auditor)

		_, err := p.Report(context.Background(), auditReq(t, `{"url":"https://example.com"}`))
		require.Error(t, err)
		assert.Zero(t, auditor.called)
		assert.Equal(t, 1, eng.Released())
	})

	t.Run("audit", func(t *testing.T) {
		eng := enginetest.New()
		auditErr := &audit.ThresholdError{URL: "https://example.com", Failures: []audit.Failure{{Category: "seo", Score: 10, Threshold: 50}}}
		p := newPipeline(eng, &stubAuditor{err: auditErr})

		_, err := p.Report(context.Background(), auditReq(t, `{"url":"https://example.com"}`))
		var thErr *audit.ThresholdError
		require.ErrorAs(t, err, &thErr)
		assert.Equal(t, 1, eng.Acquired())
		assert.Equal(t, 1, eng.Released())
	})
}

func TestProbe(t *testing.T) {
	eng := enginetest.New()
	eng.SetEvaluateResult("2026-10-19T08:00:00.000Z")
	p := newPipeline(eng, &stubAuditor{})

	stamp, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19T08:00:00.000Z", stamp)
	assert.Equal(t, 1, eng.Released())
	assert.Equal(t, engine.ContextOptions{}, eng.LastContext().Options)

	eng.Fail(enginetest.Failures{Evaluate: enginetest.ErrInjected})
	_, err = p.Probe(context.Background())
	assert.ErrorIs(t, err, enginetest.ErrInjected)
	assert.Equal(t, 2, eng.Released())
}

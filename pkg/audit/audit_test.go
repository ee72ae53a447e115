package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/engine/enginetest"
	"github.com/entrhq/capture/pkg/request"
)

const sampleLHR = `{
  "lighthouseVersion": "12.1.0",
  "finalDisplayedUrl": "https://example.com/",
  "categories": {
    "performance": {"id": "performance", "title": "Performance", "score": 0.91},
    "accessibility": {"id": "accessibility", "title": "Accessibility", "score": 0.88},
    "best-practices": {"id": "best-practices", "title": "Best Practices", "score": 1},
    "seo": {"id": "seo", "title": "SEO", "score": 0.5}
  }
}`

// fakeLighthouse records its arguments and writes reports the way the CLI
// names them.
type fakeLighthouse struct {
	args   []string
	lhr    string
	output string
	err    error
}

func (f *fakeLighthouse) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.args = args
	if f.err != nil {
		return []byte(f.output), f.err
	}

	var path string
	var outputs []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--output-path="):
			path = strings.TrimPrefix(a, "--output-path=")
		case strings.HasPrefix(a, "--output="):
			outputs = append(outputs, strings.TrimPrefix(a, "--output="))
		}
	}

	for _, out := range outputs {
		name := path
		if len(outputs) > 1 {
			name = path + ".report." + out
		}
		content := f.lhr
		if out != "json" {
			content = "<" + out + " report>"
		}
		if err := os.WriteFile(name, []byte(content), 0600); err != nil {
			return nil, err
		}
	}
	return []byte(f.output), nil
}

func navigatedPage(t *testing.T, url string) engine.Page {
	t.Helper()
	eng := enginetest.New()
	ictx, err := eng.NewIsolatedContext(context.Background(), engine.ContextOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ictx.Close() })

	page, err := ictx.NewPage()
	require.NoError(t, err)
	require.NoError(t, page.Goto(url, engine.GotoOptions{}))
	return page
}

func parseAudit(t *testing.T, body string) *request.Audit {
	t.Helper()
	req, err := request.ParseAudit([]byte(body))
	require.NoError(t, err)
	return req
}

func TestLighthouse_Args(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		notWant []string
	}{
		{
			name:    "mobile json only",
			body:    `{"url":"https://example.com"}`,
			want:    []string{"https://example.com/", "--port=9222", "--output=json", "--quiet", "--form-factor=mobile"},
			notWant: []string{"--preset=desktop", "--output=html", "--output=csv"},
		},
		{
			name:    "json false still produces the json report",
			body:    `{"url":"https://example.com","json":false,"html":true}`,
			want:    []string{"--output=json", "--output=html"},
			notWant: []string{"--output=csv"},
		},
		{
			name:    "desktop with renderings",
			body:    `{"url":"https://example.com","viewport":"desktop","html":true,"csv":true}`,
			want:    []string{"--preset=desktop", "--output=json", "--output=html", "--output=csv"},
			notWant: []string{"--form-factor=mobile"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLighthouse{lhr: sampleLHR}
			lh := NewLighthouse(Config{ExtraFlags: []string{"--throttling-method=provided"}}, 9222, fake.run, nil)

			_, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"), parseAudit(t, tt.body))
			require.NoError(t, err)

			for _, w := range tt.want {
				assert.Contains(t, fake.args, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, fake.args, nw)
			}
			assert.Equal(t, "--throttling-method=provided", fake.args[len(fake.args)-1])
		})
	}
}

func TestLighthouse_ReportBody(t *testing.T) {
	fake := &fakeLighthouse{lhr: sampleLHR}
	lh := NewLighthouse(DefaultConfig(), 9222, fake.run, nil)

	report, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"),
		parseAudit(t, `{"url":"https://example.com","html":true}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"performance":    91,
		"accessibility":  88,
		"best-practices": 100,
		"seo":            50,
	}, report.Scores)

	body, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded struct {
		LighthouseVersion string            `json:"lighthouseVersion"`
		Categories        map[string]any    `json:"categories"`
		Reports           map[string]string `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "12.1.0", decoded.LighthouseVersion)
	assert.Len(t, decoded.Categories, 4)
	assert.Equal(t, map[string]string{"html": "<html report>"}, decoded.Reports)
}

func TestLighthouse_JSONOnlyHasNoReportsKey(t *testing.T) {
	fake := &fakeLighthouse{lhr: sampleLHR}
	lh := NewLighthouse(DefaultConfig(), 9222, fake.run, nil)

	report, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"),
		parseAudit(t, `{"url":"https://example.com","json":true}`))
	require.NoError(t, err)

	body, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, sampleLHR, string(body))
}

func TestLighthouse_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds string
		wantFail   []string
	}{
		{name: "defaults enforce nothing", thresholds: `{}`},
		{name: "met", thresholds: `{"performance":90,"seo":50}`},
		{name: "missing category not enforced", thresholds: `{"pwa":100}`},
		{
			name:       "every failure listed",
			thresholds: `{"performance":95,"accessibility":80,"seo":60}`,
			wantFail:   []string{"performance", "seo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLighthouse{lhr: sampleLHR}
			lh := NewLighthouse(DefaultConfig(), 9222, fake.run, nil)

			_, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"),
				parseAudit(t, `{"url":"https://example.com","thresholds":`+tt.thresholds+`}`))

			if len(tt.wantFail) == 0 {
				require.NoError(t, err)
				return
			}

			var thErr *ThresholdError
			require.ErrorAs(t, err, &thErr)
			var got []string
			for _, f := range thErr.Failures {
				got = append(got, f.Category)
			}
			assert.Equal(t, tt.wantFail, got)
			assert.Contains(t, err.Error(), "performance 91 < 95")
		})
	}
}

func TestReport_CheckUsesUnroundedScores(t *testing.T) {
	report, err := parseReport([]byte(`{"categories":{
		"performance": {"id": "performance", "score": 0.895},
		"seo": {"id": "seo", "score": 0.29}
	}}`))
	require.NoError(t, err)
	assert.Equal(t, 90.0, report.Scores["performance"], "display score is rounded")

	failures := report.Check(request.Thresholds{Performance: 90, SEO: 29})
	require.Len(t, failures, 1)
	assert.Equal(t, "performance", failures[0].Category)
	assert.Equal(t, "performance 89.5 < 90", failures[0].String())

	assert.Empty(t, report.Check(request.Thresholds{Performance: 89, SEO: 29}))
}

func TestLighthouse_CommandFailure(t *testing.T) {
	fake := &fakeLighthouse{err: errors.New("exit status 1"), output: "Unable to connect to Chrome"}
	lh := NewLighthouse(DefaultConfig(), 9222, fake.run, nil)

	_, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"),
		parseAudit(t, `{"url":"https://example.com"}`))

	var auditErr *Error
	require.ErrorAs(t, err, &auditErr)
	assert.Contains(t, err.Error(), "Unable to connect to Chrome")
	assert.Equal(t, "https://example.com/", auditErr.URL)
}

func TestLighthouse_MalformedReport(t *testing.T) {
	fake := &fakeLighthouse{lhr: "not json"}
	lh := NewLighthouse(DefaultConfig(), 9222, fake.run, nil)

	_, err := lh.Audit(context.Background(), navigatedPage(t, "https://example.com/"),
		parseAudit(t, `{"url":"https://example.com"}`))

	var auditErr *Error
	require.ErrorAs(t, err, &auditErr)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "...6789", tail("0123456789", 4))
}

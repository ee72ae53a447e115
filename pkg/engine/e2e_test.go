package engine_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/pipeline"
	"github.com/entrhq/capture/pkg/request"
	"github.com/entrhq/capture/pkg/session"
)

// startEngine launches a real Chromium. Set CAPTURE_E2E=1 to run.
func startEngine(t *testing.T) *engine.Playwright {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	if os.Getenv("CAPTURE_E2E") != "1" {
		t.Skip("Skipping browser test: CAPTURE_E2E is not set")
	}

	cfg := engine.DefaultConfig()
	cfg.DebugPort = 0
	cfg.ExecutablePath = os.Getenv("PLAYWRIGHT_CHROMIUM_EXECUTABLE_PATH")
	cfg.InstallBrowsers = cfg.ExecutablePath == ""

	eng := engine.NewPlaywright(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestE2E_Screenshots(t *testing.T) {
	eng := startEngine(t)
	assert.True(t, eng.IsAlive())

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body style="margin:0"><div style="height:3000px;background:linear-gradient(red,blue)">tall</div></body></html>`))
	}))
	defer site.Close()

	p := pipeline.New(session.NewManager(eng, 2, nil), nil, nil, nil)

	shoot := func(body string) []byte {
		req, err := request.ParseScreenshot([]byte(body))
		require.NoError(t, err)
		img, err := p.Screenshot(context.Background(), req)
		require.NoError(t, err)
		return img.Data
	}

	png := shoot(`{"url":"` + site.URL + `","sleep":0}`)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	jpeg := shoot(`{"url":"` + site.URL + `","sleep":0,"format":"jpeg","quality":50}`)
	assert.True(t, bytes.HasPrefix(jpeg, []byte{0xFF, 0xD8}))

	webp := shoot(`{"url":"` + site.URL + `","sleep":0,"format":"webp"}`)
	assert.Equal(t, "WEBP", string(webp[8:12]))

	full := shoot(`{"url":"` + site.URL + `","sleep":0,"fullPage":true}`)
	assert.Greater(t, len(full), len(png))

	_, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p.Sessions().Active())
}

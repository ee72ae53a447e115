// Package audit scores a navigated page with the Lighthouse CLI.
//
// Lighthouse attaches to the running Chromium through its remote debugging
// port, audits the page's current URL and writes its reports to a scratch
// directory. The JSON report (the LHR) becomes the response body; HTML and
// CSV renderings, when requested, are attached under "reports".
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/request"
)

// Auditor runs a page-quality audit on a navigated page.
type Auditor interface {
	Audit(ctx context.Context, page engine.Page, req *request.Audit) (*Report, error)
}

// Config configures the Lighthouse adapter.
type Config struct {
	// Command is the Lighthouse executable. Default: lighthouse.
	Command string `yaml:"command" json:"command"`

	// ExtraFlags are appended to every invocation.
	ExtraFlags []string `yaml:"extra_flags" json:"extra_flags"`

	// Timeout bounds one invocation. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the audit defaults.
func DefaultConfig() Config {
	return Config{
		Command: "lighthouse",
		Timeout: 3 * time.Minute,
	}
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Lighthouse is an Auditor backed by the Lighthouse CLI.
type Lighthouse struct {
	cfg       Config
	debugPort int
	run       Runner
	log       *logging.Logger
}

// NewLighthouse creates the adapter. debugPort is the engine's remote
// debugging port. A nil run uses ExecRunner.
func NewLighthouse(cfg Config, debugPort int, run Runner, log *logging.Logger) *Lighthouse {
	if cfg.Command == "" {
		cfg.Command = DefaultConfig().Command
	}
	if run == nil {
		run = ExecRunner
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Lighthouse{cfg: cfg, debugPort: debugPort, run: run, log: log.Named("audit")}
}

// Audit implements Auditor.
func (l *Lighthouse) Audit(ctx context.Context, page engine.Page, req *request.Audit) (*Report, error) {
	target := page.URL()
	if target == "" || target == "about:blank" {
		target = req.URL
	}

	dir, err := os.MkdirTemp("", "capture-audit-*")
	if err != nil {
		return nil, &Error{URL: target, Err: fmt.Errorf("create report directory: %w", err)}
	}
	defer os.RemoveAll(dir)

	runCtx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	args := l.args(target, req, filepath.Join(dir, "report"))
	l.log.Debugf("running %s %s", l.cfg.Command, strings.Join(args, " "))

	start := time.Now()
	output, err := l.run(runCtx, l.cfg.Command, args...)
	if err != nil {
		return nil, &Error{URL: target, Output: tail(string(output), 2048), Err: err}
	}
	l.log.Debugf("lighthouse finished in %s", time.Since(start).Round(time.Millisecond))

	files, err := collect(dir)
	if err != nil {
		return nil, &Error{URL: target, Err: err}
	}

	lhr, ok := files["json"]
	if !ok {
		return nil, &Error{URL: target, Err: errors.New("lighthouse wrote no JSON report")}
	}
	report, err := parseReport(lhr)
	if err != nil {
		return nil, &Error{URL: target, Err: err}
	}
	if req.Formats.HTML {
		report.Rendered["html"] = string(files["html"])
	}
	if req.Formats.CSV {
		report.Rendered["csv"] = string(files["csv"])
	}

	if failures := report.Check(req.Thresholds); len(failures) > 0 {
		return nil, &ThresholdError{URL: target, Failures: failures}
	}
	return report, nil
}

// args builds the Lighthouse command line. JSON is always produced; it is
// the report the service parses.
func (l *Lighthouse) args(target string, req *request.Audit, outputPath string) []string {
	args := []string{
		target,
		fmt.Sprintf("--port=%d", l.debugPort),
		"--output=json",
	}
	if req.Formats.HTML {
		args = append(args, "--output=html")
	}
	if req.Formats.CSV {
		args = append(args, "--output=csv")
	}
	args = append(args, "--output-path="+outputPath, "--quiet")
	if req.Viewport == request.ViewportDesktop {
		args = append(args, "--preset=desktop")
	} else {
		args = append(args, "--form-factor=mobile")
	}
	return append(args, l.cfg.ExtraFlags...)
}

// collect reads every report in dir keyed by file extension. Lighthouse
// names them <path> for a single output and <path>.report.<ext> otherwise.
func collect(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read report directory: %w", err)
	}
	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(entry.Name()), ".")
		if ext == "" {
			ext = "json"
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s report: %w", ext, err)
		}
		files[ext] = data
	}
	return files, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

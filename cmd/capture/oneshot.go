package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/capture/pkg/request"
)

// shootOptions mirror the screenshot request body. They are encoded to
// JSON and parsed like an HTTP request so both paths validate alike.
type shootOptions struct {
	URL       string `json:"url"`
	Format    string `json:"format,omitempty"`
	Quality   *int   `json:"quality,omitempty"`
	FullPage  bool   `json:"fullPage,omitempty"`
	Theme     string `json:"theme,omitempty"`
	WaitUntil string `json:"waitUntil,omitempty"`
	Timeout   *int   `json:"timeout,omitempty"`
	Sleep     *int   `json:"sleep,omitempty"`
	Viewport  *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"viewport,omitempty"`
}

func newShootCmd(flags *globalFlags) *cobra.Command {
	var (
		out           string
		quality       int
		timeout       int
		sleep         int
		width, height int
		opts          shootOptions
	)

	cmd := &cobra.Command{
		Use:   "shoot <url>",
		Short: "Capture one screenshot and write it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.URL = args[0]
			if cmd.Flags().Changed("quality") {
				opts.Quality = &quality
			}
			if cmd.Flags().Changed("timeout") {
				opts.Timeout = &timeout
			}
			if cmd.Flags().Changed("sleep") {
				opts.Sleep = &sleep
			}
			if width > 0 || height > 0 {
				opts.Viewport = &struct {
					Width  int `json:"width"`
					Height int `json:"height"`
				}{width, height}
			}

			req, err := parseOptions(opts, request.ParseScreenshot)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			img, err := a.pipeline.Screenshot(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, img.Data)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	f.StringVar(&opts.Format, "format", "", "Image format: png, jpeg, webp")
	f.IntVar(&quality, "quality", request.DefaultQuality, "Quality for jpeg and webp (0-100)")
	f.BoolVar(&opts.FullPage, "full-page", false, "Capture the full scrollable page")
	f.StringVar(&opts.Theme, "theme", "", "Color scheme: light or dark")
	f.StringVar(&opts.WaitUntil, "wait-until", "", "load, domcontentloaded, networkidle or commit")
	f.IntVar(&timeout, "timeout", int(request.DefaultTimeout.Milliseconds()), "Navigation timeout in milliseconds")
	f.IntVar(&sleep, "sleep", int(request.DefaultSleep.Milliseconds()), "Settle delay after load in milliseconds")
	f.IntVar(&width, "width", 0, "Viewport width")
	f.IntVar(&height, "height", 0, "Viewport height")
	return cmd
}

type reportOptions struct {
	URL      string `json:"url"`
	Viewport string `json:"viewport,omitempty"`
	HTML     bool   `json:"html,omitempty"`
	CSV      bool   `json:"csv,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	var (
		out  string
		opts reportOptions
	)

	cmd := &cobra.Command{
		Use:   "report <url>",
		Short: "Run one Lighthouse audit and write the JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.URL = args[0]
			req, err := parseOptions(opts, request.ParseAudit)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.pipeline.Report(cmd.Context(), req)
			if err != nil {
				return err
			}
			body, err := json.Marshal(report)
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), out, body)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	f.StringVar(&opts.Viewport, "viewport", "", "Device preset: mobile or desktop")
	f.BoolVar(&opts.HTML, "html", false, "Attach the HTML rendering")
	f.BoolVar(&opts.CSV, "csv", false, "Attach the CSV rendering")
	f.StringVar(&opts.Theme, "theme", "", "Color scheme: light or dark")
	return cmd
}

func parseOptions[T any, R any](opts T, parse func([]byte) (R, error)) (R, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		var zero R
		return zero, err
	}
	return parse(data)
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

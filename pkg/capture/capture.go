// Package capture rasterizes a navigated page into an image.
package capture

import (
	"context"
	"fmt"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/request"
)

// Image is an encoded screenshot.
type Image struct {
	Data     []byte
	MIMEType string
}

// Error is an engine-side rasterization failure.
type Error struct {
	Format request.Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s screenshot failed: %v", e.Format, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// BuildOptions resolves the engine option set for req. Quality is set
// only for lossy formats, and a clip rectangle overrides the full-page
// flag.
func BuildOptions(req *request.Screenshot) engine.ScreenshotOptions {
	opts := engine.ScreenshotOptions{
		Format:   string(req.Format),
		FullPage: req.FullPage,
	}
	if req.Format.Lossy() {
		quality := req.Quality
		opts.Quality = &quality
	}
	if c := req.Clip; c != nil {
		opts.Clip = &engine.Clip{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
		opts.FullPage = false
	}
	return opts
}

// Screenshot captures page as described by req.
func Screenshot(ctx context.Context, page engine.Page, req *request.Screenshot) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Format: req.Format, Err: err}
	}

	data, err := page.Screenshot(BuildOptions(req))
	if err != nil {
		return nil, &Error{Format: req.Format, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Format: req.Format, Err: fmt.Errorf("engine returned an empty image")}
	}
	return &Image{Data: data, MIMEType: req.Format.MIMEType()}, nil
}

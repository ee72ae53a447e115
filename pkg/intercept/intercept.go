// Package intercept rewrites outbound request headers for trusted origins.
//
// Caller-supplied headers are only ever sent to URLs matching the
// trusted-origin filter. Requests to any other origin, including ones
// reached through redirects or sub-resources, go out exactly as the page
// issued them.
package intercept

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/capture/pkg/engine"
)

// DefaultTrustedOrigins is the filter used when none is configured.
var DefaultTrustedOrigins = []string{"http://appwrite/*"}

// RoutePattern is the engine route every page request passes through.
const RoutePattern = "**/*"

// Filter decides which request URLs receive caller headers.
type Filter struct {
	patterns []string
	globs    []glob.Glob
}

// NewFilter compiles URL glob patterns. A '*' matches any run of
// characters, including '/'. An empty pattern list trusts nothing.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{patterns: append([]string(nil), patterns...)}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted origin pattern '%s': %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// MustFilter is NewFilter for patterns known to be valid.
func MustFilter(patterns []string) *Filter {
	f, err := NewFilter(patterns)
	if err != nil {
		panic(err)
	}
	return f
}

// Patterns returns the source patterns.
func (f *Filter) Patterns() []string {
	return append([]string(nil), f.patterns...)
}

// Trusted reports whether url may receive caller headers.
func (f *Filter) Trusted(url string) bool {
	for _, g := range f.globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Install routes every request of page through the filter. Nothing is
// installed when headers is empty, so the page runs without interception.
func Install(page engine.Page, filter *Filter, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	extra := make(map[string]string, len(headers))
	for k, v := range headers {
		extra[k] = v
	}

	err := page.Route(RoutePattern, func(req engine.InterceptedRequest) {
		if !filter.Trusted(req.URL()) {
			_ = req.Continue(nil)
			return
		}
		_ = req.Continue(Merge(req.Headers(), extra))
	})
	if err != nil {
		return fmt.Errorf("install header route: %w", err)
	}
	return nil
}

// Merge overlays extra on original. Header names compare
// case-insensitively; an overridden header takes the caller's spelling.
func Merge(original, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(original)+len(extra))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range extra {
		for existing := range merged {
			if existing != k && strings.EqualFold(existing, k) {
				delete(merged, existing)
			}
		}
		merged[k] = v
	}
	return merged
}

package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/entrhq/capture/pkg/request"
)

// Report is a parsed Lighthouse result.
type Report struct {
	// LHR is the raw JSON report.
	LHR json.RawMessage

	// Scores maps category id to score on a 0-100 scale, rounded for
	// display. Categories Lighthouse did not score are absent.
	Scores map[string]float64

	// fractions are the unrounded 0-1 scores thresholds are checked against.
	fractions map[string]float64

	// Rendered holds additional renderings keyed by format (html, csv).
	Rendered map[string]string
}

type lhrCategories struct {
	Categories map[string]struct {
		ID    string   `json:"id"`
		Score *float64 `json:"score"`
	} `json:"categories"`
}

func parseReport(data []byte) (*Report, error) {
	var parsed lhrCategories
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse lighthouse report: %w", err)
	}

	r := &Report{
		LHR:      json.RawMessage(data),
		Scores:    make(map[string]float64, len(parsed.Categories)),
		Rendered:  make(map[string]string),
		fractions: make(map[string]float64, len(parsed.Categories)),
	}
	for key, cat := range parsed.Categories {
		if cat.Score == nil {
			continue
		}
		id := cat.ID
		if id == "" {
			id = key
		}
		r.Scores[id] = math.Round(*cat.Score * 100)
		r.fractions[id] = *cat.Score
	}
	return r, nil
}

// Failure is one category scoring below its threshold.
type Failure struct {
	Category  string
	Score     float64
	Threshold float64
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %.4g < %g", f.Category, f.Score, f.Threshold)
}

// Check compares the unrounded scores against thresholds. Zero thresholds
// and categories missing from the report are not enforced. Failures are
// sorted by category.
func (r *Report) Check(t request.Thresholds) []Failure {
	var failures []Failure
	for category, threshold := range t.ByCategory() {
		if threshold <= 0 {
			continue
		}
		fraction, ok := r.fractions[category]
		if !ok {
			continue
		}
		// threshold/100 rounds the same way the report's own decimal does,
		// so 0.29 meets 29 exactly.
		if fraction < threshold/100 {
			failures = append(failures, Failure{Category: category, Score: fraction * 100, Threshold: threshold})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Category < failures[j].Category })
	return failures
}

// MarshalJSON renders the LHR with any extra renderings added under a
// top-level "reports" object.
func (r *Report) MarshalJSON() ([]byte, error) {
	if len(r.Rendered) == 0 {
		return r.LHR, nil
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(r.LHR, &body); err != nil {
		return nil, fmt.Errorf("decode lighthouse report: %w", err)
	}
	rendered, err := json.Marshal(r.Rendered)
	if err != nil {
		return nil, err
	}
	body["reports"] = rendered
	return json.Marshal(body)
}

// Error is an audit engine failure.
type Error struct {
	URL    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("audit of %s failed: %v", e.URL, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// ThresholdError lists every category that scored below its threshold.
type ThresholdError struct {
	URL      string
	Failures []Failure
}

func (e *ThresholdError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("audit of %s below thresholds: %s", e.URL, strings.Join(parts, ", "))
}

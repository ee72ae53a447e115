package request

import (
	"fmt"
	"strings"
)

// Violation describes one constraint a field failed.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
}

func (v Violation) String() string {
	field := v.Field
	if field == "" {
		field = "body"
	}
	if v.Value == nil {
		return fmt.Sprintf("%s: %s", field, v.Constraint)
	}
	return fmt.Sprintf("%s: %s (got %v)", field, v.Constraint, v.Value)
}

// ValidationError is returned when a payload is malformed or violates
// one or more field constraints.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// checker accumulates violations while a payload is resolved.
type checker struct {
	violations []Violation
}

func (c *checker) add(field, constraint string, value any) {
	c.violations = append(c.violations, Violation{Field: field, Constraint: constraint, Value: value})
}

func (c *checker) err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: c.violations}
}

func (c *checker) between(field string, v, min, max float64) {
	if v < min || v > max {
		c.add(field, fmt.Sprintf("must be between %v and %v", min, max), v)
	}
}

func (c *checker) atLeast(field string, v, min float64) {
	if v < min {
		c.add(field, fmt.Sprintf("must be at least %v", min), v)
	}
}

func (c *checker) integer(field string, v float64) {
	if v != float64(int64(v)) {
		c.add(field, "must be an integer", v)
	}
}

func oneOf[T ~string](c *checker, field string, v T, allowed ...T) {
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	c.add(field, "must be one of "+strings.Join(names, ", "), string(v))
}

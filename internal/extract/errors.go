package extract

import (
	"fmt"
	"strings"
)

// excerptLimit bounds how much raw collaborator text an error may carry.
const excerptLimit = 200

// Excerpt returns the first 200 characters of raw for error reporting.
// Full responses never travel inside errors.
func Excerpt(raw string) string {
	r := []rune(strings.TrimSpace(raw))
	if len(r) > excerptLimit {
		r = r[:excerptLimit]
	}
	return string(r)
}

// FormatError means no JSON payload could be located in the response, or
// the located payload did not parse.
type FormatError struct {
	Excerpt string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: response is not valid JSON: %v (response: %q)", e.Err, e.Excerpt)
	}
	return fmt.Sprintf("extract: no JSON payload in response (response: %q)", e.Excerpt)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ShapeError means the payload parsed but has the wrong top-level shape.
// An empty array counts as a shape failure, not a success.
type ShapeError struct {
	Expected string
	Got      string
	Excerpt  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("extract: expected %s, got %s (response: %q)", e.Expected, e.Got, e.Excerpt)
}

// SchemaError means the payload has the right shape but elements are
// missing required fields or carry non-coercible values. Violations is the
// complete offender list for the whole payload, never just the first hit.
type SchemaError struct {
	Violations []string
	Excerpt    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extract: %d schema violation(s): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// specPattern matches "[N|a|an] unit" once any "every" prefix is removed,
// e.g. "5 minutes", "minute", "30 seconds", "an hour", "1.5 hours".
var specPattern = regexp.MustCompile(`^(?:(\d+(?:\.\d+)?|an?|one)\s*)?([a-z]+)$`)

var specUnits = map[string]time.Duration{
	"ms":           time.Millisecond,
	"millisecond":  time.Millisecond,
	"milliseconds": time.Millisecond,
	"s":            time.Second,
	"sec":          time.Second,
	"secs":         time.Second,
	"second":       time.Second,
	"seconds":      time.Second,
	"m":            time.Minute,
	"min":          time.Minute,
	"mins":         time.Minute,
	"minute":       time.Minute,
	"minutes":      time.Minute,
	"h":            time.Hour,
	"hour":         time.Hour,
	"hours":        time.Hour,
	"day":          24 * time.Hour,
	"days":         24 * time.Hour,
	"week":         7 * 24 * time.Hour,
	"weeks":        7 * 24 * time.Hour,
}

// Spec is a parsed job time description.
type Spec struct {
	Interval  time.Duration
	Recurring bool
}

// ParseSpec parses a human time description.
//
// A leading "every" makes the job recurring; anything else runs once.
// Besides the human form, Go durations ("90s", "every 1h30m") are accepted.
//
// Returns:
//   - Spec: Parsed interval and recurrence
//   - error: ErrInvalidSpec for unknown formats or non-positive intervals
func ParseSpec(spec string) (Spec, error) {
	s := strings.ToLower(strings.TrimSpace(spec))

	recurring := false
	if rest, ok := strings.CutPrefix(s, "every "); ok {
		recurring = true
		s = strings.TrimSpace(rest)
	}

	if d, err := time.ParseDuration(s); err == nil {
		return validSpec(spec, d, recurring)
	}

	m := specPattern.FindStringSubmatch(s)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}

	unit, ok := specUnits[m[2]]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidSpec, m[2])
	}

	count := 1.0
	switch m[1] {
	case "", "a", "an", "one":
	default:
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
		}
		count = n
	}

	return validSpec(spec, time.Duration(count*float64(unit)), recurring)
}

func validSpec(raw string, d time.Duration, recurring bool) (Spec, error) {
	if d <= 0 {
		return Spec{}, fmt.Errorf("%w: %q is not a positive interval", ErrInvalidSpec, raw)
	}
	return Spec{Interval: d, Recurring: recurring}, nil
}

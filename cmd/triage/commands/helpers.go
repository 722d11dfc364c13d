package commands

import (
	"fmt"
	"time"
)

// parseInterval parses a --interval value. An empty value or "0" disables
// the periodic loop.
func parseInterval(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --interval %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid --interval %q: must not be negative", s)
	}
	return d, nil
}

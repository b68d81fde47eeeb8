package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseSpan accepts Go durations plus a whole-day "Nd" suffix. flag names
// the option in error messages.
func parseSpan(flag, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid --%s value %q", flag, raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --%s value %q", flag, raw)
	}
	return d, nil
}

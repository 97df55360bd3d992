package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFrameSet parses a comma-separated list of frame indices and
// inclusive ranges, e.g. "3,7-9,12". Whitespace is ignored.
func ParseFrameSet(s string) (map[int64]bool, error) {
	set := make(map[int64]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad frame %q: %w", part, err)
		}
		end := start
		if isRange {
			if end, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64); err != nil {
				return nil, fmt.Errorf("bad frame range %q: %w", part, err)
			}
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("bad frame range %q", part)
		}
		for f := start; f <= end; f++ {
			set[f] = true
		}
	}
	return set, nil
}

package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var deltaPattern = regexp.MustCompile(`(\d+)([dwMy])`)

// ParseDelta turns a compact time-delta literal like "2d", "3w1d" or "1M"
// into a duration. Units: d=day, w=week, M=30 days, y=365 days. The whole
// string must consist of unit terms.
func ParseDelta(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty time delta: %w", ErrValidation)
	}

	matches := deltaPattern.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return 0, fmt.Errorf("malformed time delta %q: %w", s, ErrValidation)
	}

	// Reject strings with anything besides the matched terms.
	if strings.Join(collectTerms(matches), "") != s {
		return 0, fmt.Errorf("malformed time delta %q: %w", s, ErrValidation)
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("malformed time delta %q: %w", s, ErrValidation)
		}
		day := 24 * time.Hour
		switch m[2] {
		case "d":
			total += time.Duration(n) * day
		case "w":
			total += time.Duration(n) * 7 * day
		case "M":
			total += time.Duration(n) * 30 * day
		case "y":
			total += time.Duration(n) * 365 * day
		}
	}
	return total, nil
}

func collectTerms(matches [][]string) []string {
	terms := make([]string, 0, len(matches))
	for _, m := range matches {
		terms = append(terms, m[0])
	}
	return terms
}

package listener

import (
	"fmt"
	"math"
	"strconv"
)

// ParseFloat converts a venue numeric string, rejecting NaN and infinities.
// Venue payloads carry prices and sizes as strings; anything non-finite is a
// malformed record.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return f, nil
}

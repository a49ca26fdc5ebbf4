package storyboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimestamp accepts "mm:ss" or plain seconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		sec, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		return sec, nil
	case 2:
		m, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || m < 0 {
			return 0, fmt.Errorf("invalid minutes in %q", s)
		}
		sec, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
			return 0, fmt.Errorf("invalid seconds in %q", s)
		}
		return float64(m)*60 + sec, nil
	default:
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
}

// FormatTimestamp renders seconds as m:ss.
func FormatTimestamp(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(math.Floor(sec))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

package ads

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts a human or machine timestamp into seconds.
//
// Accepted forms: "H:MM:SS", "H:MM:SS.mmm", "MM:SS", "MM:SS.mmm", "M:SS",
// plain floats ("93.5"), floats with a trailing unit ("93.5s"), and comma
// decimal separators ("93,5"). Anything else returns an error naming the
// offending input.
func ParseTimestamp(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("ads: empty timestamp")
	}
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimSuffix(s, "s")

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0, fmt.Errorf("ads: malformed timestamp %q", raw)
		}
		total := 0.0
		for i, p := range parts {
			p = strings.TrimSpace(p)
			v, err := strconv.ParseFloat(p, 64)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("ads: malformed timestamp %q", raw)
			}
			// Only the final (seconds) component may carry a fraction.
			if i < len(parts)-1 && v != float64(int64(v)) {
				return 0, fmt.Errorf("ads: malformed timestamp %q", raw)
			}
			total = total*60 + v
		}
		return total, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("ads: malformed timestamp %q", raw)
	}
	return v, nil
}

// TextInRange returns the space-joined text of every segment overlapping
// [start, end). Partial overlaps are included. Segment order is preserved.
func TextInRange(segments []Segment, start, end float64) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

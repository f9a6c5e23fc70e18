package adscan

import (
	"encoding/json"
	"strings"

	"github.com/MrWong99/podscrub/internal/ads"
)

// startKeys and endKeys are the structural field names models use for ad
// boundaries, in priority order.
var (
	startKeys = []string{"start", "start_time", "start_sec", "start_seconds", "begin", "from"}
	endKeys   = []string{"end", "end_time", "end_sec", "end_seconds", "finish", "to"}
)

// extractJSONArray returns the first balanced JSON array in s. Models often
// wrap their answer in prose or markdown fences; everything outside the
// array is ignored.
func extractJSONArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseAds extracts ad markers from a raw model response. Malformed JSON
// yields an empty list, never an error: a response the model garbled is
// treated as "no ads found" and the raw text is kept for inspection.
func parseAds(raw string, stage ads.Stage) []ads.Marker {
	arr, ok := extractJSONArray(raw)
	if !ok {
		return nil
	}
	var objs []map[string]any
	if err := json.Unmarshal([]byte(arr), &objs); err != nil {
		return nil
	}

	var out []ads.Marker
	for _, obj := range objs {
		start, hasStart := firstNumeric(obj, startKeys)
		end, hasEnd := firstNumeric(obj, endKeys)
		if !hasStart && !hasEnd {
			continue
		}

		m := ads.Marker{
			Start:      start,
			End:        end,
			Confidence: 0.5,
			Stage:      stage,
		}
		if c, ok := firstNumeric(obj, []string{"confidence", "score", "probability"}); ok {
			m.Confidence = clamp01(c)
		}
		if r, ok := stringField(obj, "reason", "explanation", "why"); ok {
			m.Reason = r
		}
		if et, ok := stringField(obj, "end_text", "ending_text", "last_words"); ok {
			m.EndText = et
		}
		m.Sponsor = extractSponsor(obj, m.Reason)
		out = append(out, m)
	}
	return out
}

// firstNumeric returns the first present key coerced to float64 seconds.
// Strings are parsed as timestamps so "1:23" and "83.5s" both work.
func firstNumeric(obj map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := ads.ParseTimestamp(n); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// stringField returns the first present non-empty string among keys.
func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

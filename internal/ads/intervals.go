package ads

// Overlap returns the length in seconds of the intersection of [aStart, aEnd)
// and [bStart, bEnd). Returns 0 when the intervals are disjoint.
func Overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := max(aStart, bStart)
	hi := min(aEnd, bEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// OverlapFraction returns the intersection length divided by the length of
// the shorter interval. This is the "overlap >= 50% of the shorter segment"
// measure used for deduplication and correction conflicts. Returns 0 when
// either interval is empty.
func OverlapFraction(aStart, aEnd, bStart, bEnd float64) float64 {
	shorter := min(aEnd-aStart, bEnd-bStart)
	if shorter <= 0 {
		return 0
	}
	return Overlap(aStart, aEnd, bStart, bEnd) / shorter
}

// CoveredFraction returns how much of [start, end) is covered by the given
// markers, as a fraction in [0, 1]. Overlapping markers are not
// double-counted: coverage is computed over the merged union.
func CoveredFraction(start, end float64, markers []Marker) float64 {
	if end <= start {
		return 0
	}
	covered := 0.0
	// Walk a sweep position forward so overlapping markers only count once.
	// Markers are small in number; no need to pre-sort a copy beyond this.
	pos := start
	for {
		// Find the marker that starts earliest at or before pos and extends past it.
		bestEnd := -1.0
		nextStart := end
		for _, m := range markers {
			if m.End <= pos || m.Start >= end {
				continue
			}
			if m.Start <= pos {
				if m.End > bestEnd {
					bestEnd = m.End
				}
			} else if m.Start < nextStart {
				nextStart = m.Start
			}
		}
		if bestEnd > pos {
			stop := min(bestEnd, end)
			covered += stop - pos
			pos = stop
		} else if nextStart < end {
			pos = nextStart
		} else {
			break
		}
		if pos >= end {
			break
		}
	}
	return covered / (end - start)
}

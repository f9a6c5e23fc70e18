package ads

import "sort"

// Cut is a removed span of original audio, [Start, End) in original-audio
// seconds.
type Cut struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the cut length in seconds.
func (c Cut) Duration() float64 { return c.End - c.Start }

// CutSet maps between original-audio time and processed-audio time for a
// list of pass-1 cuts. The zero value (no cuts) is the identity mapping.
type CutSet struct {
	cuts []Cut
}

// NewCutSet returns a CutSet over the given cuts. The input is copied and
// sorted by original start; the caller's slice is not modified.
func NewCutSet(cuts []Cut) *CutSet {
	cp := make([]Cut, len(cuts))
	copy(cp, cuts)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })
	return &CutSet{cuts: cp}
}

// Cuts returns the sorted cuts.
func (cs *CutSet) Cuts() []Cut { return cs.cuts }

// TotalRemoved returns the summed duration of all cuts.
func (cs *CutSet) TotalRemoved() float64 {
	total := 0.0
	for _, c := range cs.cuts {
		total += c.Duration()
	}
	return total
}

// ToOriginal maps a processed-audio time t back to original-audio time.
//
// Cuts are walked in original order, accumulating removed duration: a cut
// shifts t iff its original start lies at or before t plus the removed
// duration accumulated so far. The mapping is monotone non-decreasing in t
// and is the identity when the set is empty.
func (cs *CutSet) ToOriginal(t float64) float64 {
	offset := 0.0
	for _, c := range cs.cuts {
		if c.Start <= t+offset {
			offset += c.Duration()
		} else {
			break
		}
	}
	return t + offset
}

// ToProcessed maps an original-audio time t to processed-audio time. The
// result is only meaningful for t outside every cut; for such t,
// ToOriginal(ToProcessed(t)) == t.
func (cs *CutSet) ToProcessed(t float64) float64 {
	removed := 0.0
	for _, c := range cs.cuts {
		if c.End <= t {
			removed += c.Duration()
		}
	}
	return t - removed
}

// MarkerToOriginal maps a marker expressed in processed-audio coordinates
// into original-audio coordinates.
func (cs *CutSet) MarkerToOriginal(m Marker) Marker {
	m.Start = cs.ToOriginal(m.Start)
	m.End = cs.ToOriginal(m.End)
	return m
}

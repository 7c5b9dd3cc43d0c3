package scheduling

import "sort"

// Range is a half-open wall-clock window [Start, End).
type Range struct {
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

// Valid reports whether the range is non-empty and within the day.
func (r Range) Valid() bool {
	return r.Start.Valid() && r.End.Valid() && r.Start < r.End
}

// Minutes is the length of the range.
func (r Range) Minutes() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Overlaps uses half-open semantics: ranges that only touch do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Clip returns the part of r inside bounds and whether anything remains.
func (r Range) Clip(bounds Range) (Range, bool) {
	out := Range{Start: max(r.Start, bounds.Start), End: min(r.End, bounds.End)}
	return out, out.Start < out.End
}

// MergeRanges sorts ranges by start and folds overlapping or touching ones
// together. Empty ranges are dropped.
func MergeRanges(in []Range) []Range {
	rs := make([]Range, 0, len(in))
	for _, r := range in {
		if r.Start < r.End {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start == rs[j].Start {
			return rs[i].End < rs[j].End
		}
		return rs[i].Start < rs[j].Start
	})
	merged := make([]Range, 0, len(rs))
	for _, r := range rs {
		n := len(merged)
		if n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Gaps returns the sub-ranges of window not covered by occupied, in order.
// occupied must already be merged.
func Gaps(window Range, occupied []Range) []Range {
	gaps := []Range{}
	cursor := window.Start
	for _, o := range occupied {
		c, ok := o.Clip(window)
		if !ok {
			continue
		}
		if c.Start > cursor {
			gaps = append(gaps, Range{Start: cursor, End: c.Start})
		}
		if c.End > cursor {
			cursor = c.End
		}
	}
	if cursor < window.End {
		gaps = append(gaps, Range{Start: cursor, End: window.End})
	}
	return gaps
}

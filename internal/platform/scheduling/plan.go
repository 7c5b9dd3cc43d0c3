package scheduling

import (
	"sort"

	"github.com/google/uuid"
)

// Span is the outer bounds of a set of segments, possibly across dates.
type Span struct {
	StartDate Date      `json:"start_date"`
	Start     TimeOfDay `json:"start_time"`
	EndDate   Date      `json:"end_date"`
	End       TimeOfDay `json:"end_time"`
}

// Segments converts the plan's entries into booking segments.
func (p *AllocationPlan) Segments() []Segment {
	out := make([]Segment, 0, len(p.Entries))
	for _, en := range p.Entries {
		id := en.SlotID
		out = append(out, Segment{SlotID: &id, Date: en.Date, Start: en.Start, End: en.End})
	}
	return out
}

// Collapse applies CollapseSegments to the plan.
func (p *AllocationPlan) Collapse() *Range { return CollapseSegments(p.Segments()) }

// CollapseSegments reduces segments to a single start/end pair when that pair
// covers exactly the allocated time: one segment, or several on the same date
// that touch end to start. Gapped or multi-day sets give nil.
func CollapseSegments(segs []Segment) *Range {
	if len(segs) == 0 {
		return nil
	}
	sorted := sortedSegments(segs)
	out := sorted[0].Range()
	for _, s := range sorted[1:] {
		if !s.Date.Equal(sorted[0].Date) || s.Start != out.End {
			return nil
		}
		out.End = s.End
	}
	return &out
}

// Bounding returns the earliest start and latest end across segments,
// regardless of gaps. Suitable for display only.
func Bounding(segs []Segment) *Span {
	if len(segs) == 0 {
		return nil
	}
	sorted := sortedSegments(segs)
	first, last := sorted[0], sorted[0]
	for _, s := range sorted[1:] {
		if s.Date.After(last.Date) || (s.Date.Equal(last.Date) && s.End > last.End) {
			last = s
		}
	}
	return &Span{StartDate: first.Date, Start: first.Start, EndDate: last.Date, End: last.End}
}

// lastSegmentIndex returns the index of the segment with the latest date and
// end, which is the one an extension grows.
func lastSegmentIndex(segs []Segment) int {
	idx := -1
	for i, s := range segs {
		if idx < 0 {
			idx = i
			continue
		}
		l := segs[idx]
		if s.Date.After(l.Date) || (s.Date.Equal(l.Date) && s.End > l.End) {
			idx = i
		}
	}
	return idx
}

func sortedSegments(segs []Segment) []Segment {
	out := append([]Segment(nil), segs...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func segmentDates(segs []Segment) []Date {
	seen := make(map[Date]bool, len(segs))
	var out []Date
	for _, s := range segs {
		if seen[s.Date] {
			continue
		}
		seen[s.Date] = true
		out = append(out, s.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// normalizeSegments validates segments and returns them sorted. Segments of
// one booking may not overlap each other.
func normalizeSegments(segs []Segment) ([]Segment, error) {
	if len(segs) == 0 {
		return nil, invalidf("at least one segment is required")
	}
	for _, s := range segs {
		if s.Date.IsZero() {
			return nil, invalidf("segment date is required")
		}
		if !s.Range().Valid() {
			return nil, invalidf("segment end_time %s must be after start_time %s", s.End, s.Start)
		}
	}
	sorted := sortedSegments(segs)
	for i := 1; i < len(sorted); i++ {
		p, c := sorted[i-1], sorted[i]
		if p.Date.Equal(c.Date) && p.Range().Overlaps(c.Range()) {
			return nil, invalidf("segments on %s overlap each other", c.Date)
		}
	}
	return sorted, nil
}

func totalSegmentMinutes(segs []Segment) int {
	n := 0
	for _, s := range segs {
		n += s.Minutes()
	}
	return n
}

func slotIDsOf(segs []Segment) []uuid.UUID {
	var ids []uuid.UUID
	for _, s := range segs {
		if s.SlotID != nil {
			ids = append(ids, *s.SlotID)
		}
	}
	return dedupeIDs(ids)
}

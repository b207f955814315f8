package appointment

import (
	"sort"
	"time"
)

// DayWindow returns [00:00, 24:00) of date's calendar day in loc. Days with a
// DST change are 23 or 25 hours long.
func DayWindow(date time.Time, loc *time.Location) TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return TimeRange{Start: dayStart(y, m, d, loc), End: dayStart(y, m, d+1, loc)}
}

// dayStart returns the first instant of the calendar day in loc. Where the
// clocks jump forward at midnight (America/Santiago), local 00:00 does not
// exist and time.Date normalises it into the previous day.
func dayStart(y int, m time.Month, d int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	_, _, day := time.Date(y, m, d, 12, 0, 0, 0, loc).Date()
	if t.Day() == day {
		return t
	}
	// t is late on the previous day; the gap starts at that day's local 24:00.
	h, mi, sec := t.Clock()
	elapsed := time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())
	return t.Add(24*time.Hour - elapsed)
}

// BusyBlocksFor projects the active appointments intersecting window into busy
// blocks. Blocks keep the full appointment bounds, they are not clipped to
// the window.
func BusyBlocksFor(appts []Appointment, window TimeRange) []BusyBlock {
	blocks := make([]BusyBlock, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		if !a.IsActive() || !Overlaps(a.TimeRange(), window) {
			continue
		}
		blocks = append(blocks, BusyBlock{ID: a.ID, Start: a.Start, End: a.End()})
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Start.Before(blocks[j].Start)
	})
	return blocks
}

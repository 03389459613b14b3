// Package availability models the clinic's weekly consultation hours in KST
// and answers questions about them from any patient timezone.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

const minutesPerDay = 24 * 60

var ErrInvalidWindow = errors.New("invalid availability window")

// Window is a recurring weekly KST interval. Both ends are inclusive minutes
// of the day, so 20:00-23:59 accepts any instant from 20:00:00 to 23:59:59.
type Window struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// Range is a span of bookable time in the caller's zone. End is the last
// bookable minute, matching the inclusive window semantics.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Calendar is immutable once built and safe for concurrent use.
type Calendar struct {
	byDay [7][]Window
}

func DefaultWindows() []Window {
	evening := func(d time.Weekday) Window {
		return Window{Weekday: d, StartMinute: 20 * 60, EndMinute: 23*60 + 59}
	}
	return []Window{
		{Weekday: time.Sunday, StartMinute: 9 * 60, EndMinute: 23*60 + 59},
		evening(time.Monday),
		evening(time.Tuesday),
		evening(time.Wednesday),
		evening(time.Thursday),
		evening(time.Friday),
	}
}

// DefaultCalendar is the clinic's standard week: Mon-Fri 20:00-23:59,
// Sun 09:00-23:59, Sat closed.
func DefaultCalendar() *Calendar {
	c, err := NewCalendar(DefaultWindows()...)
	if err != nil {
		panic(err)
	}
	return c
}

func NewCalendar(windows ...Window) (*Calendar, error) {
	c := &Calendar{}
	for _, w := range windows {
		if err := w.validate(); err != nil {
			return nil, err
		}
		c.byDay[w.Weekday] = append(c.byDay[w.Weekday], w)
	}
	for d := range c.byDay {
		sort.Slice(c.byDay[d], func(i, j int) bool {
			return c.byDay[d][i].StartMinute < c.byDay[d][j].StartMinute
		})
	}
	return c, nil
}

func (w Window) validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidWindow, w.Weekday)
	}
	if w.StartMinute < 0 || w.EndMinute >= minutesPerDay || w.StartMinute > w.EndMinute {
		return fmt.Errorf("%w: %s %d-%d", ErrInvalidWindow, w.Weekday, w.StartMinute, w.EndMinute)
	}
	return nil
}

// Windows returns the configured windows ordered by weekday then start.
func (c *Calendar) Windows() []Window {
	var out []Window
	for _, day := range c.byDay {
		out = append(out, day...)
	}
	return out
}

// IsAvailable projects utc into KST and checks the windows for that weekday.
func (c *Calendar) IsAvailable(utc time.Time) bool {
	k := utc.In(tzconv.KST())
	minute := k.Hour()*60 + k.Minute()
	for _, w := range c.byDay[k.Weekday()] {
		if minute >= w.StartMinute && minute <= w.EndMinute {
			return true
		}
	}
	return false
}

// DateHasAvailability reports whether any instant of the local calendar day
// falls inside a window. A local day can straddle two KST days, so the whole
// UTC span of the day is checked rather than a single projection.
func (c *Calendar) DateHasAvailability(date tzconv.LocalDate, tz string) (bool, error) {
	pieces, err := c.RangesForDate(date, tz)
	if err != nil {
		return false, err
	}
	return len(pieces) > 0, nil
}

// RangeForDate returns the envelope of every bookable piece of the local day,
// or nil when the clinic is closed for all of it. A day whose early hours hit
// one KST window and whose later hours hit a closed KST day yields a partial
// range.
func (c *Calendar) RangeForDate(date tzconv.LocalDate, tz string) (*Range, error) {
	pieces, err := c.RangesForDate(date, tz)
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, nil
	}
	return &Range{Start: pieces[0].Start, End: pieces[len(pieces)-1].End}, nil
}

// RangesForDate returns each bookable piece of the local day in tz, merged
// where pieces touch.
func (c *Calendar) RangesForDate(date tzconv.LocalDate, tz string) ([]Range, error) {
	loc, err := tzconv.LoadZone(tz)
	if err != nil {
		return nil, err
	}
	dayStart, dayEnd := tzconv.DaySpan(date, loc)

	first := tzconv.DateOf(dayStart.In(tzconv.KST()))
	last := tzconv.DateOf(dayEnd.Add(-time.Nanosecond).In(tzconv.KST()))

	var spans []span
	for kd := first; !after(kd, last); kd = kd.AddDays(1) {
		kstMidnight := tzconv.StartOfDay(kd, tzconv.KST())
		for _, w := range c.byDay[kd.Weekday()] {
			s := span{
				start: kstMidnight.Add(time.Duration(w.StartMinute) * time.Minute),
				end:   kstMidnight.Add(time.Duration(w.EndMinute+1) * time.Minute),
			}
			if clipped, ok := s.intersect(span{start: dayStart, end: dayEnd}); ok {
				spans = append(spans, clipped)
			}
		}
	}

	merged := mergeSpans(spans)
	out := make([]Range, 0, len(merged))
	for _, s := range merged {
		out = append(out, Range{
			Start: s.start.In(loc),
			End:   s.end.Add(-time.Minute).In(loc),
		})
	}
	return out, nil
}

func after(a, b tzconv.LocalDate) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	if a.Month != b.Month {
		return a.Month > b.Month
	}
	return a.Day > b.Day
}

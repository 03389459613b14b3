package availability

import (
	"sort"
	"time"
)

// span is a half-open instant interval [start, end).
type span struct {
	start time.Time
	end   time.Time
}

func (s span) intersect(o span) (span, bool) {
	start := s.start
	if o.start.After(start) {
		start = o.start
	}
	end := s.end
	if o.end.Before(end) {
		end = o.end
	}
	if !start.Before(end) {
		return span{}, false
	}
	return span{start: start, end: end}, true
}

func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })

	out := []span{spans[0]}
	for _, s := range spans[1:] {
		cur := &out[len(out)-1]
		if !s.start.After(cur.end) {
			if s.end.After(cur.end) {
				cur.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

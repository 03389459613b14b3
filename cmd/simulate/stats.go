package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeError
	// outcomeCanceled marks requests cut off by the end of the run; they are not recorded
	outcomeCanceled
)

// opStats collects the results of one kind of request.
type opStats struct {
	mu        sync.Mutex
	counts    [outcomeCanceled]int64
	latencies []time.Duration
}

func (o *opStats) record(latency time.Duration, res outcome) {
	if res == outcomeCanceled {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[res]++
	o.latencies = append(o.latencies, latency)
}

func classify(status int, err error, okStatus int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == okStatus:
		return outcomeSuccess
	case status == 409:
		return outcomeConflict
	default:
		return outcomeError
	}
}

type summary struct {
	total, success, conflict, failed int64
	avg, min, max, p50, p95          time.Duration
}

func (o *opStats) summarize() summary {
	o.mu.Lock()
	sorted := append([]time.Duration(nil), o.latencies...)
	s := summary{success: o.counts[outcomeSuccess], conflict: o.counts[outcomeConflict], failed: o.counts[outcomeError]}
	o.mu.Unlock()

	s.total = s.success + s.conflict + s.failed
	if len(sorted) == 0 {
		return s
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	s.avg = sum / time.Duration(len(sorted))
	s.min, s.max = sorted[0], sorted[len(sorted)-1]
	s.p50 = sorted[percentileIndex(len(sorted), 50)]
	s.p95 = sorted[percentileIndex(len(sorted), 95)]
	return s
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func pct(part, total int64) float64 {
	return float64(part) / float64(total) * 100
}

func (s summary) write(w io.Writer, name string) {
	if s.total == 0 {
		return
	}
	r := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }

	fmt.Fprintf(w, "%-14s total=%-6d ok=%5.1f%%", name, s.total, pct(s.success, s.total))
	if s.conflict > 0 {
		fmt.Fprintf(w, " conflict=%5.1f%%", pct(s.conflict, s.total))
	}
	if s.failed > 0 {
		fmt.Fprintf(w, " error=%5.1f%%", pct(s.failed, s.total))
	}
	fmt.Fprintf(w, "\n%-14s avg=%s min=%s max=%s p50=%s p95=%s\n",
		"", r(s.avg), r(s.min), r(s.max), r(s.p50), r(s.p95))
}

package reservation

import (
	"errors"
	"sort"
	"time"

	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

const MaxSlots = 3

// SlotCandidate is one ranked appointment time as the submitter expressed it.
// Start is derived from Local and SourceTimezone at construction and never
// changes afterwards.
type SlotCandidate struct {
	Rank           int
	Local          tzconv.LocalDateTime
	SourceTimezone string
	Start          time.Time
}

// NewSlotCandidate resolves the wall-clock reading to a UTC instant.
func NewSlotCandidate(rank int, local tzconv.LocalDateTime, tz string) (SlotCandidate, error) {
	start, err := tzconv.ToUTC(local, tz)
	if err != nil {
		switch {
		case errors.Is(err, tzconv.ErrUnknownZone):
			return SlotCandidate{}, invalid("timezone", "unknown timezone %q", tz)
		case errors.Is(err, tzconv.ErrNonexistentLocalTime):
			return SlotCandidate{}, invalid("slots", "rank %d: %s does not exist in %s (clock change)", rank, local, tz)
		}
		return SlotCandidate{}, err
	}
	return SlotCandidate{Rank: rank, Local: local, SourceTimezone: tz, Start: start}, nil
}

// SlotSet is an ordered, validated set of up to three candidates. The zero
// value is the empty set.
type SlotSet struct {
	slots []SlotCandidate
}

// BuildSlotSet validates candidates and returns them ordered by rank.
func BuildSlotSet(candidates []SlotCandidate) (SlotSet, error) {
	if err := validateCandidates(candidates, false); err != nil {
		return SlotSet{}, err
	}
	out := append([]SlotCandidate(nil), candidates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return SlotSet{slots: out}, nil
}

func validateCandidates(candidates []SlotCandidate, allowEmpty bool) error {
	n := len(candidates)
	if n == 0 && !allowEmpty {
		return invalid("slots", "at least one slot is required")
	}
	if n > MaxSlots {
		return invalid("slots", "at most %d slots are allowed, got %d", MaxSlots, n)
	}

	ranks := make(map[int]bool, n)
	for _, c := range candidates {
		if c.Rank < 1 || c.Rank > n {
			return invalid("slots", "rank %d is outside 1..%d", c.Rank, n)
		}
		if ranks[c.Rank] {
			return invalid("slots", "rank %d is used more than once", c.Rank)
		}
		ranks[c.Rank] = true
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if candidates[i].Start.Equal(candidates[j].Start) {
				return invalid("slots", "ranks %d and %d are the same moment (%s UTC)",
					candidates[i].Rank, candidates[j].Rank, candidates[i].Start.UTC().Format(time.RFC3339))
			}
		}
	}
	return nil
}

func (s SlotSet) validate(allowEmpty bool) error {
	return validateCandidates(s.slots, allowEmpty)
}

func (s SlotSet) Len() int {
	return len(s.slots)
}

func (s SlotSet) IsEmpty() bool {
	return len(s.slots) == 0
}

// Slots returns a copy ordered by rank.
func (s SlotSet) Slots() []SlotCandidate {
	return append([]SlotCandidate(nil), s.slots...)
}

// Contains reports whether instant equals the start of any candidate.
func (s SlotSet) Contains(instant time.Time) bool {
	for _, c := range s.slots {
		if c.Start.Equal(instant) {
			return true
		}
	}
	return false
}

func (s SlotSet) clone() SlotSet {
	if s.slots == nil {
		return SlotSet{}
	}
	return SlotSet{slots: append([]SlotCandidate(nil), s.slots...)}
}

// RestoreSlotSet rebuilds a set from storage without re-deriving instants.
// Corrupt data is reported by Reservation.CheckInvariants, not here.
func RestoreSlotSet(candidates []SlotCandidate) SlotSet {
	if len(candidates) == 0 {
		return SlotSet{}
	}
	out := append([]SlotCandidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return SlotSet{slots: out}
}

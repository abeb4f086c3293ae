package objectid

import "iter"

// Default decrement bounds (exclusive).
const (
	DefaultTimestampMax = 60
	DefaultCounterMax   = 100
)

// Ranges bounds the decrements applied to the base timestamp and counter.
// Decrements run over [1, Max).
type Ranges struct {
	TimestampMax int
	CounterMax   int
}

// DefaultRanges returns the 60s/100-counter search window.
func DefaultRanges() Ranges {
	return Ranges{
		TimestampMax: DefaultTimestampMax,
		CounterMax:   DefaultCounterMax,
	}
}

// Candidate is one guessed identifier and the decrements that produced it.
type Candidate struct {
	TimestampDelta int
	CounterDelta   int
	ID             ID
}

// Candidates yields guesses ordered by ascending timestamp decrement, then
// ascending counter decrement. The random segment of base is kept. Pairs
// whose timestamp or counter would go negative are skipped. The sequence
// can be ranged over any number of times.
func Candidates(base ID, r Ranges) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for td := 1; td < r.TimestampMax; td++ {
			ts := int64(base.Timestamp) - int64(td)
			if ts < 0 {
				continue
			}
			for cd := 1; cd < r.CounterMax; cd++ {
				counter := int64(base.Counter) - int64(cd)
				if counter < 0 {
					continue
				}
				c := Candidate{
					TimestampDelta: td,
					CounterDelta:   cd,
					ID:             base.WithParts(uint32(ts), uint32(counter)),
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

// Count returns how many candidates Candidates(base, r) yields.
func Count(base ID, r Ranges) int {
	tsSlots := clampSlots(int64(base.Timestamp), r.TimestampMax)
	counterSlots := clampSlots(int64(base.Counter), r.CounterMax)
	return tsSlots * counterSlots
}

// clampSlots counts decrements d in [1, limit) with value-d >= 0.
func clampSlots(value int64, limit int) int {
	if limit <= 1 {
		return 0
	}
	n := int64(limit - 1)
	if value < n {
		n = value
	}
	return int(n)
}

package sampler

// HistoryCapacity is the number of cycle averages kept, 24 hours at one
// cycle per minute.
const HistoryCapacity = 1440

// History is a fixed-capacity circular log of cycle averages. The oldest
// entry is overwritten once the log is full.
type History struct {
	values [HistoryCapacity]float64
	next   int
	filled int
}

// Append stores v at the write index and advances it by one, wrapping.
func (h *History) Append(v float64) {
	h.values[h.next] = v
	h.next = (h.next + 1) % HistoryCapacity
	if h.filled < HistoryCapacity {
		h.filled++
	}
}

// Index returns the slot the next average will be written to.
func (h *History) Index() int { return h.next }

// Len returns the number of stored averages.
func (h *History) Len() int { return h.filled }

// At returns the raw value in slot i. Indices wrap in both directions, so
// At(-1) is the last slot.
func (h *History) At(i int) float64 {
	return h.values[((i%HistoryCapacity)+HistoryCapacity)%HistoryCapacity]
}

// Latest returns the most recently appended average.
func (h *History) Latest() (float64, bool) {
	if h.filled == 0 {
		return 0, false
	}
	return h.values[(h.next+HistoryCapacity-1)%HistoryCapacity], true
}

// Values returns the stored averages, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, 0, h.filled)
	start := 0
	if h.filled == HistoryCapacity {
		start = h.next
	}
	for i := 0; i < h.filled; i++ {
		out = append(out, h.values[(start+i)%HistoryCapacity])
	}
	return out
}

package stream

// accumulator tracks running sums per field name for one decimation window.
// Fields are independent: a field that appears in fewer samples than another
// still averages over its own count.
type accumulator struct {
	sums   map[string]float64
	counts map[string]int
	order  []string
}

func newAccumulator() *accumulator {
	return &accumulator{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

func (a *accumulator) Add(field string, v float64) {
	if _, seen := a.counts[field]; !seen {
		a.order = append(a.order, field)
	}
	a.sums[field] += v
	a.counts[field]++
}

// Means returns the arithmetic mean of every accumulated field.
func (a *accumulator) Means() map[string]float64 {
	out := make(map[string]float64, len(a.order))
	for _, f := range a.order {
		out[f] = a.sums[f] / float64(a.counts[f])
	}
	return out
}

package markov

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NextState picks the state that follows s. A terminal state loops on
// itself. Otherwise the first edge whose running weight reaches the drawn
// value wins, and the last edge is returned when rounding keeps the
// running sum below it.
func NextState(s *State, rng Source) string {
	if len(s.Transitions) == 0 {
		return s.Name
	}
	r := rng.Float64()
	var cumulative float64
	for _, tr := range s.Transitions {
		cumulative += tr.Weight
		if r <= cumulative {
			return tr.Target
		}
	}
	return s.Transitions[len(s.Transitions)-1].Target
}

package rtprelay

// recFilter is a recursive (single-pole exponential) smoothing filter,
// adapted from the teacher's sippy/math.RecFilter: same a*x + b*lastval
// update, renamed and folded into this package since the relay is the
// only place in this domain that tracks a smoothed rate.
type recFilter struct {
	lastval float64
	a       float64
	b       float64
}

// newRecFilter builds a filter with forgetting coefficient fcoef in (0, 1):
// larger values weight history more heavily against each new sample.
func newRecFilter(fcoef, initval float64) *recFilter {
	return &recFilter{lastval: initval, a: 1.0 - fcoef, b: fcoef}
}

func (f *recFilter) apply(x float64) float64 {
	f.lastval = f.a*x + f.b*f.lastval
	return f.lastval
}

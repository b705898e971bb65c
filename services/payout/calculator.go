package payout

// Base converts a quality score into the advisory payout estimate shown to
// contributors before any sale, in cents. Actual sale proceeds are computed
// by the allocation engine at settlement time and may differ; nothing in the
// settlement path reads this value back.
//
// Low scores earn a floor of $0.10, mid scores ramp at $0.50 per point and
// top scores at $4.00 per point.
func Base(score int) int64 {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score < 50:
		v := int64(score) * 10
		if v < 10 {
			return 10
		}
		return v
	case score < 80:
		return 500 + int64(score-50)*50
	default:
		return 2000 + int64(score-80)*400
	}
}

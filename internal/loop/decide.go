package loop

// Decision is the three-way outcome of comparing a candidate score to the
// frozen baseline.
type Decision int

const (
	DecisionReject  Decision = -1
	DecisionReview  Decision = 0
	DecisionApprove Decision = 1
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionReject:
		return "reject"
	default:
		return "review"
	}
}

// Decide compares a candidate score against the baseline with the given
// improvement threshold. The candidate is approved when its score ratio
// lies strictly above 1+threshold and rejected when strictly below
// 1-threshold. Both boundary values fall in the review band.
func Decide(candidateScore, baselineScore, threshold float64) Decision {
	ratio := candidateScore / baselineScore
	switch {
	case ratio > 1+threshold:
		return DecisionApprove
	case ratio < 1-threshold:
		return DecisionReject
	default:
		return DecisionReview
	}
}

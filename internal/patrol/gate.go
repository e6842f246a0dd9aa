package patrol

// Default gate thresholds.
//
// With these values the UNSURE branch cannot be reached: anything below
// DefaultConfidenceThreshold was already rejected by the leaf gate. Both
// thresholds stay independent so they can be retuned separately.
const (
	DefaultLeafThreshold       = 0.80
	DefaultConfidenceThreshold = 0.60
)

// Gate converts classifier confidence into a SemanticLabel.
type Gate struct {
	// LeafThreshold is the first gate: below it the frame is NOT_LEAF.
	LeafThreshold float64
	// ConfidenceThreshold is the second gate: below it the verdict is UNSURE.
	ConfidenceThreshold float64
}

// DefaultGate returns a Gate with the default thresholds.
func DefaultGate() Gate {
	return Gate{
		LeafThreshold:       DefaultLeafThreshold,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Label applies the gates in order, first match wins. A NaN confidence fails
// the leaf gate.
func (g Gate) Label(r ClassificationResult) SemanticLabel {
	if !(r.Confidence >= g.LeafThreshold) {
		return LabelNotLeaf
	}
	if r.Confidence < g.ConfidenceThreshold {
		return LabelUnsure
	}
	if r.ClassIndex == ClassHealthy {
		return LabelHealthy
	}
	return LabelDiseased
}

// UnsureReachable reports whether any confidence can produce LabelUnsure.
func (g Gate) UnsureReachable() bool {
	return g.ConfidenceThreshold > g.LeafThreshold
}

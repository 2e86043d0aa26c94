package decision

import "TrustGate/internal/domain/models"

// Decide maps trust and hypothesis states to an advisory decision.
// HALTED dominates RESTRICTED, which dominates ALLOWED.
func Decide(trust models.TrustState, hyp models.HypothesisState) models.Decision {
	switch {
	case trust == models.Untrusted || hyp == models.Invalid:
		return models.Halted
	case trust == models.Degraded || hyp == models.Weakening:
		return models.Restricted
	default:
		return models.Allowed
	}
}

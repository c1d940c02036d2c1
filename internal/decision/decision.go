// Package decision turns consensus statistics and change detection into a
// publish, quarantine or skip verdict.
package decision

import "github.com/JakeFAU/polla-consensus/internal/polla"

// Reasons attached to decisions.
const (
	ReasonNoMismatches   = "No mismatches detected"
	ReasonMinorMismatch  = "Minor mismatches tolerated"
	ReasonOverThreshold  = "Mismatch ratio exceeds threshold"
	ReasonUnchanged      = "No changes since last published record"
	ReasonForced         = "Unchanged record published on request"
	ReasonJackpotChanged = "Jackpot estimates changed"
)

// FromConsensus decides a draw run from its mismatch statistics. A ratio equal
// to the threshold still publishes.
func FromConsensus(total, mismatched int, ratio, threshold float64) polla.Decision {
	d := polla.Decision{
		TotalCategories:      total,
		MismatchedCategories: mismatched,
	}
	switch {
	case mismatched == 0:
		d.Status = polla.StatusPublish
		d.Reason = ReasonNoMismatches
	case ratio <= threshold:
		d.Status = polla.StatusPublishWithWarnings
		d.Reason = ReasonMinorMismatch
		d.MismatchRatio = &ratio
	default:
		d.Status = polla.StatusQuarantine
		d.Reason = ReasonOverThreshold
		d.MismatchRatio = &ratio
	}
	return d
}

// GateOnPublished downgrades a publishable verdict to skip when the same
// record was already published, or to publish_forced when force is set.
// Quarantine is returned unchanged.
func GateOnPublished(d polla.Decision, published, force bool) polla.Decision {
	if !published || !d.Status.Publishable() {
		return d
	}
	if force {
		d.Status = polla.StatusPublishForced
		d.Reason = ReasonForced
		return d
	}
	d.Status = polla.StatusSkip
	d.Reason = ReasonUnchanged
	return d
}

// FromJackpot decides a jackpot run, where aggregators cannot be
// cross-validated and only the publication history applies.
func FromJackpot(total int, published, force bool) polla.Decision {
	d := polla.Decision{
		Status:          polla.StatusPublish,
		Reason:          ReasonJackpotChanged,
		TotalCategories: total,
	}
	return GateOnPublished(d, published, force)
}

// Quarantine is the verdict for runs where no source produced a result.
func Quarantine(reason string) polla.Decision {
	return polla.Decision{Status: polla.StatusQuarantine, Reason: reason}
}

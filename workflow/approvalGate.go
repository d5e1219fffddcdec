package workflow

import (
	"fmt"

	"bitbucket.org/flowshare/allocation_backend/models"
)

// ApprovalThreshold is the minimum fraction of a period's readings that must
// be approved before reconciliation may run. Hard business invariant.
const ApprovalThreshold = 0.90

// GateDecision is the approval gate's verdict for one period.
type GateDecision struct {
	Eligible      bool
	ApprovedCount int
	TotalCount    int
	Ratio         float64
	Reason        string
}

// EvaluateApprovalGate computes the approved fraction over all non-superseded
// readings of the period. Exactly the threshold passes; anything below fails
// with a reason carrying the counts.
func EvaluateApprovalGate(readings []models.PartnerReading) GateDecision {
	total := len(readings)
	if total == 0 {
		return GateDecision{Reason: "no readings for period"}
	}

	approved := 0
	for _, r := range readings {
		if r.Status == models.ReviewStatusApproved {
			approved++
		}
	}

	ratio := float64(approved) / float64(total)
	if ratio < ApprovalThreshold {
		return GateDecision{
			ApprovedCount: approved,
			TotalCount:    total,
			Ratio:         ratio,
			Reason: fmt.Sprintf("%d/%d entries approved (%.1f%%); 90%% required",
				approved, total, ratio*100),
		}
	}

	return GateDecision{
		Eligible:      true,
		ApprovedCount: approved,
		TotalCount:    total,
		Ratio:         ratio,
	}
}

package remediation

import (
	"fmt"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// AssessRisk grades a plan low, medium or high by its riskiest action. Any high-risk, critical or irreversible
// action makes the plan high, and actions without a risk grade count as medium.
func AssessRisk(plan models.RemediationPlan) models.Risk {
	overall := models.RiskLow
	for _, action := range plan.Actions() {
		risk := action.Risk
		if risk == "" {
			risk = models.RiskMedium
		}
		if rank(risk) > rank(models.RiskHigh) || !action.Reversible {
			risk = models.RiskHigh
		}
		if rank(risk) > rank(overall) {
			overall = risk
		}
	}
	return overall
}

// SafetyCheck rejects plans that contain a high-risk action which cannot be undone.
func SafetyCheck(plan models.RemediationPlan) (bool, string) {
	for _, action := range plan.Actions() {
		if rank(action.Risk) >= rank(models.RiskHigh) && !action.Reversible {
			return false, fmt.Sprintf("High-risk irreversible action: %s", action.Description)
		}
	}
	return true, "All safety checks passed"
}

func rank(r models.Risk) int {
	switch r {
	case models.RiskLow:
		return 0
	case models.RiskHigh:
		return 2
	case models.RiskCritical:
		return 3
	default:
		return 1
	}
}

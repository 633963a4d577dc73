package entitlements

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Normalize maps arbitrary input onto a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPro:
		return PlanPro
	case PlanEnterprise:
		return PlanEnterprise
	default:
		return PlanFree
	}
}

// Rank orders plans so the higher one wins when several apply.
func Rank(plan Plan) int {
	switch plan {
	case PlanEnterprise:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// Effective returns the plan a user is entitled to at t. Anything but an
// active, unexpired subscription falls back to free.
func Effective(sub *models.Subscription, t time.Time) Plan {
	if !sub.IsActiveAt(t) {
		return PlanFree
	}
	p := Normalize(sub.PlanID)
	if p == PlanFree {
		// an active subscription without a recognizable plan still pays for pro
		return PlanPro
	}
	return p
}

// Features lists what a plan unlocks.
func Features(plan Plan) []string {
	switch plan {
	case PlanEnterprise:
		return []string{"all_pro_features", "dedicated_account_manager", "api_access", "custom_integrations", "sla"}
	case PlanPro:
		return []string{"unlimited_questions", "priority_response", "advanced_features", "email_support", "early_updates"}
	default:
		return []string{"basic_access"}
	}
}

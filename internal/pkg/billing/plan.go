package billing

import (
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
)

// Plan is a purchasable offer backed by a processor product.
type Plan struct {
	ID         entitlements.Plan `json:"id"`
	Name       string            `json:"name"`
	ProductID  string            `json:"product_id,omitempty"`
	PriceCents int64             `json:"price_cents"`
	Currency   string            `json:"currency"`
	Interval   string            `json:"interval"`
	Features   []string          `json:"features"`
}

// Available reports whether checkout can be opened for the plan.
func (p Plan) Available() bool {
	return strings.TrimSpace(p.ProductID) != ""
}

// Catalog is the fixed list of plans offered on the pricing page.
type Catalog struct {
	plans []Plan
}

func NewCatalog(proProductID, enterpriseProductID, currency string) *Catalog {
	return &Catalog{plans: []Plan{
		{
			ID:         entitlements.PlanPro,
			Name:       "Pro",
			ProductID:  strings.TrimSpace(proProductID),
			PriceCents: 2900,
			Currency:   currency,
			Interval:   models.BillingCycleMonthly,
			Features:   entitlements.Features(entitlements.PlanPro),
		},
		{
			ID:         entitlements.PlanEnterprise,
			Name:       "Enterprise",
			ProductID:  strings.TrimSpace(enterpriseProductID),
			PriceCents: 29900,
			Currency:   currency,
			Interval:   models.BillingCycleMonthly,
			Features:   entitlements.Features(entitlements.PlanEnterprise),
		},
	}}
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get looks a plan up by id; an empty id selects the default plan.
func (c *Catalog) Get(id string) (Plan, bool) {
	want := strings.ToLower(strings.TrimSpace(id))
	if want == "" {
		return c.plans[0], true
	}
	for _, p := range c.plans {
		if string(p.ID) == want {
			return p, true
		}
	}
	return Plan{}, false
}

// ByProductID resolves the plan a processor product belongs to.
func (c *Catalog) ByProductID(productID string) (Plan, bool) {
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.ProductID == pid {
			return p, true
		}
	}
	return Plan{}, false
}

// resolvePlanID picks the plan for a completed checkout: explicit plan in the
// metadata, then the product the checkout was opened for, then the default.
func (c *Catalog) resolvePlanID(md Metadata) string {
	if p, ok := c.Get(md.String("plan")); ok && md.String("plan") != "" {
		return string(p.ID)
	}
	if p, ok := c.ByProductID(md.String("product_id")); ok {
		return string(p.ID)
	}
	return string(c.plans[0].ID)
}

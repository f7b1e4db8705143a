package credits

import "strings"

// Plan is a named subscription tier with a fixed monthly credit allowance.
type Plan struct {
	Name             string
	MonthlyAllowance int64
}

const (
	PlanFree      = "free"
	PlanScholar   = "scholar"
	PlanInstitute = "institute"

	// DefaultPaidPlan is applied when an admin override or checkout grants a
	// paid status without naming a tier.
	DefaultPaidPlan = PlanScholar
)

var plans = map[string]Plan{
	PlanFree:      {Name: PlanFree, MonthlyAllowance: 0},
	PlanScholar:   {Name: PlanScholar, MonthlyAllowance: 100},
	PlanInstitute: {Name: PlanInstitute, MonthlyAllowance: 500},
}

// PlanByName resolves a tier name to its plan definition.
func PlanByName(name string) (Plan, bool) {
	p, ok := plans[NormalizePlan(name)]
	return p, ok
}

// NormalizePlan maps arbitrary input to a known plan name, defaulting to free.
func NormalizePlan(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PlanScholar:
		return PlanScholar
	case PlanInstitute:
		return PlanInstitute
	default:
		return PlanFree
	}
}

// AllowanceFor returns the monthly credit allowance for a tier name. Unknown
// tiers and the free tier refill to zero.
func AllowanceFor(name string) int64 {
	p, ok := PlanByName(name)
	if !ok {
		return 0
	}
	return p.MonthlyAllowance
}

// Billable action costs in credits.
const (
	ActionSearch = "search"
	ActionReport = "report_generation"

	costSearch = 1
	costReport = 10
)

// ActionCost maps a billable action to its credit cost and ledger entry type.
func ActionCost(action string) (int64, string, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionSearch:
		return costSearch, "search_usage", true
	case ActionReport:
		return costReport, "report_generation", true
	default:
		return 0, "", false
	}
}

package credits

import "testing"

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "free", want: PlanFree},
		{in: "scholar", want: PlanScholar},
		{in: "institute", want: PlanInstitute},
		{in: "SCHOLAR", want: PlanScholar},
		{in: "  institute ", want: PlanInstitute},
		{in: "invalid", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := NormalizePlan(tt.in); got != tt.want {
			t.Fatalf("NormalizePlan(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllowanceFor(t *testing.T) {
	if got := AllowanceFor(PlanScholar); got != 100 {
		t.Fatalf("scholar allowance = %d, want 100", got)
	}
	if got := AllowanceFor(PlanInstitute); got != 500 {
		t.Fatalf("institute allowance = %d, want 500", got)
	}
	if got := AllowanceFor("free"); got != 0 {
		t.Fatalf("free allowance = %d, want 0", got)
	}
	if got := AllowanceFor("nonsense"); got != 0 {
		t.Fatalf("unknown plan allowance = %d, want 0", got)
	}
}

func TestActionCost(t *testing.T) {
	cost, txType, ok := ActionCost("search")
	if !ok || cost != 1 || txType != "search_usage" {
		t.Fatalf("search cost = (%d, %q, %v)", cost, txType, ok)
	}
	cost, txType, ok = ActionCost("report_generation")
	if !ok || cost != 10 || txType != "report_generation" {
		t.Fatalf("report cost = (%d, %q, %v)", cost, txType, ok)
	}
	if _, _, ok := ActionCost("mine_bitcoin"); ok {
		t.Fatal("unknown action should not resolve")
	}
}

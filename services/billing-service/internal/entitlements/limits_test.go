package entitlements

import "testing"

func TestLimitsForPlan(t *testing.T) {
	free := LimitsForPlan("free")
	if free.Plan != "free" || free.MaxMonthlyAppointments != 20 || free.MaxServices != 3 {
		t.Fatalf("unexpected free limits: %+v", free)
	}

	premium := LimitsForPlan("premium")
	if premium.Plan != "premium" {
		t.Fatalf("unexpected premium plan: %+v", premium)
	}
	if premium.MaxMonthlyAppointments <= free.MaxMonthlyAppointments {
		t.Fatal("premium should allow more appointments than free")
	}

	// Unknown plans fall back to free.
	if got := LimitsForPlan("enterprise"); got.Plan != "free" {
		t.Fatalf("unknown plan should map to free, got %+v", got)
	}
}

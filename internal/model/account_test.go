package model

import "testing"

func TestPlan_DailyLimit(t *testing.T) {
	tests := []struct {
		plan      Plan
		freeLimit int
		want      int
	}{
		{PlanFree, 0, DefaultFreeDailyLimit},
		{PlanFree, 50, 50},
		{PlanPro, 50, DefaultProDailyLimit},
		{PlanEnterprise, 50, DefaultEnterpriseDailyLimit},
		{Plan("unknown"), 0, DefaultFreeDailyLimit},
	}
	for _, tt := range tests {
		if got := tt.plan.DailyLimit(tt.freeLimit); got != tt.want {
			t.Errorf("%s.DailyLimit(%d) = %d, want %d", tt.plan, tt.freeLimit, got, tt.want)
		}
	}
}

func TestPlan_Valid(t *testing.T) {
	for _, p := range []Plan{PlanFree, PlanPro, PlanEnterprise} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Plan("gold").Valid() {
		t.Error("unknown plan should not be valid")
	}
}

// TestAccountIDFor_Stable は同じ外部IDから常に同じIDが導出されることを検証する。
func TestAccountIDFor_Stable(t *testing.T) {
	a := AccountIDFor("100")
	b := AccountIDFor("100")
	if a != b {
		t.Errorf("AccountIDFor not stable: %q != %q", a, b)
	}
	if a == AccountIDFor("101") {
		t.Error("different external IDs must yield different account IDs")
	}
}

func TestAccount_UsageRemaining(t *testing.T) {
	a := &Account{UsageToday: 990, UsageLimit: 1000}
	if got := a.UsageRemaining(); got != 10 {
		t.Errorf("UsageRemaining = %d, want 10", got)
	}
	a.UsageToday = 1200
	if got := a.UsageRemaining(); got != 0 {
		t.Errorf("UsageRemaining = %d, want 0", got)
	}
}

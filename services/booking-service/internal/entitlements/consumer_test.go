package entitlements

import (
	"encoding/json"
	"testing"

	"github.com/csmaxi/miturno/services/booking-service/internal/storage"
)

func TestSubscriptionEventDecodeDefaults(t *testing.T) {
	raw := []byte(`{"owner_id":"owner-1"}`)
	var evt subscriptionEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.OwnerID != "owner-1" {
		t.Fatalf("owner_id = %q", evt.OwnerID)
	}
	if evt.Plan != "" || evt.MaxMonthlyAppointments != 0 {
		t.Fatalf("expected zero values before defaulting, got %+v", evt)
	}
}

func TestSubscriptionEventDecodePremium(t *testing.T) {
	raw := []byte(`{"owner_id":"owner-2","plan":"premium","max_monthly_appointments":500}`)
	var evt subscriptionEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Plan != "premium" {
		t.Fatalf("plan = %q", evt.Plan)
	}
	if evt.MaxMonthlyAppointments != 500 {
		t.Fatalf("max = %d", evt.MaxMonthlyAppointments)
	}
	if storage.FreeMonthlyAppointmentLimit >= evt.MaxMonthlyAppointments {
		t.Fatalf("premium limit should exceed the free limit")
	}
}

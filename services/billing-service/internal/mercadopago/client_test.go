package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreatePreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		var req PreferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ExternalReference != `{"owner_id":"o1","plan":"premium"}` {
			t.Errorf("external_reference = %q", req.ExternalReference)
		}
		_ = json.NewEncoder(w).Encode(Preference{ID: "pref-1", InitPoint: "https://pay.example/p/pref-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	pref, err := c.CreatePreference(context.Background(), PreferenceRequest{
		Items:             []PreferenceItem{{Title: "premium plan", Quantity: 1, UnitPrice: 9999}},
		ExternalReference: `{"owner_id":"o1","plan":"premium"}`,
	})
	if err != nil {
		t.Fatalf("CreatePreference: %v", err)
	}
	if pref.InitPoint != "https://pay.example/p/pref-1" {
		t.Fatalf("init_point = %q", pref.InitPoint)
	}
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Payment{ID: 123, Status: "approved", ExternalReference: `{"owner_id":"o1","plan":"premium"}`})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	p, err := c.GetPayment(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.Status != "approved" {
		t.Fatalf("status = %q", p.Status)
	}
}

func TestGetMerchantOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merchant_orders/77" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(MerchantOrder{
			ID:                77,
			OrderStatus:       "paid",
			ExternalReference: `{"owner_id":"o2","plan":"premium"}`,
			Payments:          []MerchantOrderPayment{{ID: 456, Status: "approved"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	o, err := c.GetMerchantOrder(context.Background(), "77")
	if err != nil {
		t.Fatalf("GetMerchantOrder: %v", err)
	}
	if o.OrderStatus != "paid" || len(o.Payments) != 1 || o.Payments[0].ID != 456 {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestNon2xxIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.GetPayment(context.Background(), "999")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
}

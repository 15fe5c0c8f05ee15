package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComposeBooked(t *testing.T) {
	msg, err := Compose("booking.appointment.booked.v1", AppointmentEvent{
		AppointmentID: "a1",
		OwnerID:       "o1",
		ServiceName:   "Corte",
		ClientName:    "Ana",
		ClientPhone:   "+54 9 11 5555-0000",
		Date:          "2025-06-12",
		StartTime:     "14:00",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(msg.Text, "Ana") || !strings.Contains(msg.Text, "Corte") {
		t.Fatalf("owner text missing fields: %q", msg.Text)
	}
	if !strings.HasPrefix(msg.WhatsAppLink, "https://wa.me/5491155550000?text=") {
		t.Fatalf("unexpected link: %q", msg.WhatsAppLink)
	}
}

func TestComposeCompletedHasNoClientLink(t *testing.T) {
	msg, err := Compose("booking.appointment.completed.v1", AppointmentEvent{
		AppointmentID: "a1",
		OwnerID:       "o1",
		ClientName:    "Ana",
		ClientPhone:   "+5491155550000",
		Date:          "2025-06-12",
		StartTime:     "14:00",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if msg.WhatsAppLink != "" {
		t.Fatalf("completed events should not message the client, got %q", msg.WhatsAppLink)
	}
}

func TestComposeUnknownEvent(t *testing.T) {
	if _, err := Compose("booking.appointment.rescheduled.v1", AppointmentEvent{OwnerID: "o1"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseAppointmentEventRequiresIDs(t *testing.T) {
	if _, err := ParseAppointmentEvent([]byte(`{"client_name":"Ana"}`)); err == nil {
		t.Fatal("expected error when ids are missing")
	}
	if _, err := ParseAppointmentEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestWebhookSenderDeliver(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "tok")
	err := s.Deliver(context.Background(), Message{OwnerID: "o1", Event: "booking.appointment.booked.v1", Text: "hola"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.OwnerID != "o1" {
		t.Fatalf("delivered owner_id = %q", got.OwnerID)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	if err := s.Deliver(context.Background(), Message{}); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}

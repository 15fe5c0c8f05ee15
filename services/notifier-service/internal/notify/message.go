package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/csmaxi/miturno/libs/whatsapp"
)

// AppointmentEvent is the shared shape of the booking topics.
type AppointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	OwnerID       string `json:"owner_id"`
	ServiceName   string `json:"service_name"`
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	Reason        string `json:"reason"`
}

func ParseAppointmentEvent(raw []byte) (AppointmentEvent, error) {
	var evt AppointmentEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return AppointmentEvent{}, err
	}
	if strings.TrimSpace(evt.OwnerID) == "" || strings.TrimSpace(evt.AppointmentID) == "" {
		return AppointmentEvent{}, fmt.Errorf("appointment event missing ids")
	}
	return evt, nil
}

// Compose turns a booking event into the message for the owner, with a
// ready-to-tap wa.me link addressed to the client.
func Compose(eventType string, evt AppointmentEvent) (Message, error) {
	var ownerText, clientText string
	switch eventType {
	case "booking.appointment.booked.v1":
		ownerText = fmt.Sprintf("Nuevo turno: %s reservó %s el %s a las %s.",
			evt.ClientName, evt.ServiceName, evt.Date, evt.StartTime)
		clientText = fmt.Sprintf("Hola %s! Recibimos tu reserva para el %s a las %s. Te confirmamos a la brevedad.",
			evt.ClientName, evt.Date, evt.StartTime)
	case "booking.appointment.confirmed.v1":
		ownerText = fmt.Sprintf("Turno confirmado: %s el %s a las %s.",
			evt.ClientName, evt.Date, evt.StartTime)
		clientText = fmt.Sprintf("Hola %s! Tu turno del %s a las %s fue confirmado. Te esperamos!",
			evt.ClientName, evt.Date, evt.StartTime)
	case "booking.appointment.cancelled.v1":
		ownerText = fmt.Sprintf("Turno cancelado: %s el %s a las %s.",
			evt.ClientName, evt.Date, evt.StartTime)
		clientText = fmt.Sprintf("Hola %s. Lamentablemente tu turno del %s a las %s fue cancelado.",
			evt.ClientName, evt.Date, evt.StartTime)
	case "booking.appointment.completed.v1":
		ownerText = fmt.Sprintf("Turno completado: %s el %s a las %s.",
			evt.ClientName, evt.Date, evt.StartTime)
	default:
		return Message{}, fmt.Errorf("unknown event type %q", eventType)
	}

	msg := Message{
		OwnerID: evt.OwnerID,
		Event:   eventType,
		Text:    ownerText,
	}
	if clientText != "" && strings.TrimSpace(evt.ClientPhone) != "" {
		link, err := whatsapp.Link(evt.ClientPhone, clientText)
		if err == nil {
			msg.WhatsAppLink = link
		}
	}
	return msg, nil
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/csmaxi/miturno/libs/auth"
	"github.com/csmaxi/miturno/libs/outbox"
	"github.com/csmaxi/miturno/libs/whatsapp"
	"github.com/csmaxi/miturno/services/booking-service/internal/availability"
	"github.com/csmaxi/miturno/services/booking-service/internal/model"
	"github.com/csmaxi/miturno/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type BookingHandler struct {
	repo         *storage.BookingRepository
	entitlements *storage.EntitlementsRepository
	outboxRepo   *outbox.Repository
	logger       *slog.Logger
	now          func() time.Time
}

func NewBookingHandler(repo *storage.BookingRepository, entitlements *storage.EntitlementsRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:         repo,
		entitlements: entitlements,
		outboxRepo:   outboxRepo,
		logger:       logger,
		now:          time.Now,
	}
}

type createBookingRequest struct {
	OwnerID     string `json:"owner_id"`
	ServiceID   string `json:"service_id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	Notes       string `json:"notes"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	EndTime       string `json:"end_time"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

type transitionResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	WhatsAppLink  string `json:"whatsapp_link,omitempty"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Dates lists the bookable dates of a week: days of the Monday-based week
// (shifted by week_offset) that are not in the past and have an availability
// window for their weekday.
func (h *BookingHandler) Dates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}
	weekOffset := 0
	if raw := r.URL.Query().Get("week_offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid week_offset", http.StatusBadRequest)
			return
		}
		weekOffset = n
	}

	windows, err := h.repo.ListWindows(r.Context(), ownerID)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	dates := availability.DatesForWeek(weekOffset, windows, h.now())
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// Slots computes the offerable start times for one service on one date and
// removes the starts already taken by non-cancelled appointments.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	rawDate := strings.TrimSpace(q.Get("date"))
	if ownerID == "" || serviceID == "" || rawDate == "" {
		http.Error(w, "owner_id, service_id and date required", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	svc, err := h.repo.GetService(ctx, ownerID, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	if !svc.IsActive {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}

	slots, err := h.availableSlots(ctx, ownerID, svc, date)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidServiceDuration) {
			http.Error(w, "service has invalid duration", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *BookingHandler) availableSlots(ctx context.Context, ownerID string, svc storage.ServiceInfo, date time.Time) ([]string, error) {
	windows, err := h.repo.ListWindows(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	slots, err := availability.SlotsForDate(date, svc.DurationMins, windows)
	if err != nil {
		return nil, err
	}
	taken, err := h.repo.ListTakenStarts(ctx, ownerID, date)
	if err != nil {
		return nil, err
	}
	return filterTaken(slots, taken), nil
}

func filterTaken(slots, taken []string) []string {
	if len(taken) == 0 {
		return slots
	}
	busy := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		busy[t] = struct{}{}
	}
	free := make([]string, 0, len(slots))
	for _, s := range slots {
		if _, held := busy[s]; held {
			continue
		}
		free = append(free, s)
	}
	return free
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	if req.OwnerID == "" || req.ServiceID == "" || req.ClientName == "" || req.ClientPhone == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if beforeToday(date, h.now()) {
		http.Error(w, "date is in the past", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	svc, err := h.repo.GetService(ctx, req.OwnerID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	if !svc.IsActive {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}

	// The requested time must be one of the slots we would have offered.
	slots, err := h.availableSlots(ctx, req.OwnerID, svc, date)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidServiceDuration) {
			http.Error(w, "service has invalid duration", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	if !containsSlot(slots, req.StartTime) {
		http.Error(w, "requested time is not an available slot", http.StatusBadRequest)
		return
	}

	endTime, err := addMinutes(req.StartTime, svc.DurationMins)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt := &model.Appointment{
		OwnerID:     req.OwnerID,
		ServiceID:   req.ServiceID,
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		Date:        date,
		StartTime:   req.StartTime,
		EndTime:     endTime,
		Status:      model.StatusPending,
		Notes:       strings.TrimSpace(req.Notes),
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.enforceMonthlyAppointmentLimit(ctx, tx, req.OwnerID, date); err != nil {
		if errors.Is(err, errPaymentRequired) {
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		http.Error(w, "entitlements check failed", http.StatusInternalServerError)
		return
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": id,
		"owner_id":       appt.OwnerID,
		"service_id":     appt.ServiceID,
		"service_name":   svc.Name,
		"client_name":    appt.ClientName,
		"client_phone":   appt.ClientPhone,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime,
		"end_time":       appt.EndTime,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     "booking.appointment.booked.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createBookingResponse{
		AppointmentID: id,
		Status:        model.StatusPending,
		EndTime:       endTime,
	})
}

var errPaymentRequired = errors.New("monthly appointment limit reached (upgrade required)")

func (h *BookingHandler) enforceMonthlyAppointmentLimit(ctx context.Context, tx pgx.Tx, ownerID string, date time.Time) error {
	ent, err := h.entitlements.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if ent.MaxMonthlyAppointments <= 0 {
		return nil
	}
	monthStart := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	cnt, err := h.repo.CountActiveInRange(ctx, tx, ownerID, monthStart, monthEnd)
	if err != nil {
		return err
	}
	if cnt >= ent.MaxMonthlyAppointments {
		return errPaymentRequired
	}
	return nil
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusConfirmed, "booking.appointment.confirmed.v1", confirmedMessage)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCancelled, "booking.appointment.cancelled.v1", cancelledMessage)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCompleted, "booking.appointment.completed.v1", nil)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, target, eventType string, message func(model.Appointment) string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, claims.OwnerID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if !model.CanTransition(appt.Status, target) {
		http.Error(w, fmt.Sprintf("cannot move appointment from %s to %s", appt.Status, target), http.StatusConflict)
		return
	}

	if err := h.repo.UpdateStatus(ctx, tx, claims.OwnerID, appt.ID, target, strings.TrimSpace(req.Reason)); err != nil {
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"client_name":    appt.ClientName,
		"client_phone":   appt.ClientPhone,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime,
		"status":         target,
		"reason":         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	resp := transitionResponse{AppointmentID: appt.ID, Status: target}
	if message != nil {
		if link, err := whatsapp.Link(appt.ClientPhone, message(appt)); err == nil {
			resp.WhatsAppLink = link
		} else {
			h.logger.Warn("whatsapp link skipped", "appointment_id", appt.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	appts, err := h.repo.ListByOwner(r.Context(), claims.OwnerID, status, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := appointmentItem{
			AppointmentID: appt.ID,
			ServiceID:     appt.ServiceID,
			ClientName:    appt.ClientName,
			ClientPhone:   appt.ClientPhone,
			Date:          appt.Date.Format("2006-01-02"),
			StartTime:     appt.StartTime,
			EndTime:       appt.EndTime,
			Status:        appt.Status,
			Notes:         appt.Notes,
			CreatedAt:     appt.CreatedAt.Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func confirmedMessage(appt model.Appointment) string {
	return fmt.Sprintf("Hola %s! Tu turno del %s a las %s fue confirmado. Te esperamos!",
		appt.ClientName, appt.Date.Format("02/01/2006"), appt.StartTime)
}

func cancelledMessage(appt model.Appointment) string {
	return fmt.Sprintf("Hola %s. Lamentablemente tu turno del %s a las %s fue cancelado.",
		appt.ClientName, appt.Date.Format("02/01/2006"), appt.StartTime)
}

// beforeToday reports whether date falls on an earlier calendar day than now.
// Dates arrive without a zone and parse as UTC, so compare calendar fields
// rather than instants.
func beforeToday(date, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return date.Before(today)
}

func containsSlot(slots []string, start string) bool {
	for _, s := range slots {
		if s == start {
			return true
		}
	}
	return false
}

func addMinutes(clock string, minutes int) (string, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return "", err
	}
	t = t.Add(time.Duration(minutes) * time.Minute)
	return t.Format("15:04"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

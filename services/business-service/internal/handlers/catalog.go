package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/csmaxi/miturno/libs/auth"
	"github.com/csmaxi/miturno/services/business-service/internal/storage"
)

type CatalogHandler struct {
	repo   *storage.Repository
	logger *slog.Logger
}

func NewCatalogHandler(repo *storage.Repository, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{repo: repo, logger: logger}
}

type profileResponse struct {
	OwnerID  string `json:"owner_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Phone    string `json:"phone"`
	Timezone string `json:"timezone"`
}

type updateProfileRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Phone    string `json:"phone"`
	Timezone string `json:"timezone"`
}

type serviceRequest struct {
	ServiceID    string `json:"service_id,omitempty"`
	Name         string `json:"name"`
	DurationMins int    `json:"duration_minutes"`
	Price        string `json:"price"`
	Description  string `json:"description"`
	IsActive     *bool  `json:"is_active,omitempty"`
}

type serviceItem struct {
	ServiceID    string `json:"service_id"`
	Name         string `json:"name"`
	DurationMins int    `json:"duration_minutes"`
	Price        string `json:"price"`
	Description  string `json:"description,omitempty"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at"`
}

type windowRequest struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start_time"`
	End     string `json:"end_time"`
}

type windowItem struct {
	WindowID int64  `json:"window_id"`
	Weekday  int    `json:"weekday"`
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
}

// Profile serves GET (current profile) and PUT (update).
func (h *CatalogHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		owner, err := h.repo.GetOwner(r.Context(), claims.OwnerID)
		if err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "account not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load profile", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{
			OwnerID:  owner.ID,
			Email:    owner.Email,
			Name:     owner.Name,
			Slug:     owner.Slug,
			Phone:    owner.Phone,
			Timezone: owner.Timezone,
		})
	case http.MethodPut:
		var req updateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		if req.Slug != "" && !slugPattern.MatchString(req.Slug) {
			http.Error(w, "invalid slug", http.StatusBadRequest)
			return
		}
		if req.Timezone != "" {
			if _, err := time.LoadLocation(req.Timezone); err != nil {
				http.Error(w, "invalid timezone", http.StatusBadRequest)
				return
			}
		}
		err := h.repo.UpdateProfile(r.Context(), claims.OwnerID, req.Name, req.Slug, strings.TrimSpace(req.Phone), req.Timezone)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				http.Error(w, "slug already taken", http.StatusConflict)
				return
			}
			http.Error(w, "failed to update profile", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Services serves GET (list), POST (create), PUT (update) and DELETE
// (deactivate, via ?service_id=).
func (h *CatalogHandler) Services(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		services, err := h.repo.ListServices(ctx, claims.OwnerID, includeInactive)
		if err != nil {
			http.Error(w, "failed to list services", http.StatusInternalServerError)
			return
		}
		items := make([]serviceItem, 0, len(services))
		for _, s := range services {
			items = append(items, serviceItem{
				ServiceID:    s.ID,
				Name:         s.Name,
				DurationMins: s.DurationMins,
				Price:        s.Price,
				Description:  s.Description,
				IsActive:     s.IsActive,
				CreatedAt:    s.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": items})

	case http.MethodPost:
		req, ok := h.decodeServiceRequest(w, r)
		if !ok {
			return
		}

		max, err := h.repo.MaxServices(ctx, claims.OwnerID)
		if err != nil {
			http.Error(w, "entitlements check failed", http.StatusInternalServerError)
			return
		}
		cnt, err := h.repo.CountServices(ctx, claims.OwnerID)
		if err != nil {
			http.Error(w, "entitlements check failed", http.StatusInternalServerError)
			return
		}
		if cnt >= max {
			http.Error(w, fmt.Sprintf("service limit reached (%d); upgrade required", max), http.StatusPaymentRequired)
			return
		}

		id, err := h.repo.CreateService(ctx, storage.Service{
			OwnerID:      claims.OwnerID,
			Name:         req.Name,
			DurationMins: req.DurationMins,
			Price:        req.Price,
			Description:  req.Description,
			IsActive:     true,
		})
		if err != nil {
			http.Error(w, "failed to create service", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"service_id": id})

	case http.MethodPut:
		req, ok := h.decodeServiceRequest(w, r)
		if !ok {
			return
		}
		if req.ServiceID == "" {
			http.Error(w, "service_id required", http.StatusBadRequest)
			return
		}
		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}
		err := h.repo.UpdateService(ctx, storage.Service{
			ID:           req.ServiceID,
			OwnerID:      claims.OwnerID,
			Name:         req.Name,
			DurationMins: req.DurationMins,
			Price:        req.Price,
			Description:  req.Description,
			IsActive:     isActive,
		})
		if err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to update service", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
		if serviceID == "" {
			http.Error(w, "service_id required", http.StatusBadRequest)
			return
		}
		if err := h.repo.DeactivateService(ctx, claims.OwnerID, serviceID); err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to deactivate service", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CatalogHandler) decodeServiceRequest(w http.ResponseWriter, r *http.Request) (serviceRequest, bool) {
	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return req, false
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Name = strings.TrimSpace(req.Name)
	req.Price = strings.TrimSpace(req.Price)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return req, false
	}
	if req.DurationMins <= 0 {
		http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// Availability serves GET (list), POST (add a window, one per weekday) and
// DELETE (?window_id=).
func (h *CatalogHandler) Availability(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		windows, err := h.repo.ListWindows(ctx, claims.OwnerID)
		if err != nil {
			http.Error(w, "failed to list availability", http.StatusInternalServerError)
			return
		}
		items := make([]windowItem, 0, len(windows))
		for _, win := range windows {
			items = append(items, windowItem{
				WindowID: win.ID,
				Weekday:  win.Weekday,
				Start:    win.Start,
				End:      win.End,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"availability": items})

	case http.MethodPost:
		var req windowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.Weekday < 0 || req.Weekday > 6 {
			http.Error(w, "weekday must be 0-6", http.StatusBadRequest)
			return
		}
		start, err := parseClock(req.Start)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		end, err := parseClock(req.End)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		if end <= start {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}

		id, err := h.repo.CreateWindow(ctx, storage.Window{
			OwnerID: claims.OwnerID,
			Weekday: req.Weekday,
			Start:   req.Start,
			End:     req.End,
		})
		if err != nil {
			if storage.IsUniqueViolation(err) {
				http.Error(w, "weekday already has a window", http.StatusConflict)
				return
			}
			http.Error(w, "failed to create window", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"window_id": id})

	case http.MethodDelete:
		raw := strings.TrimSpace(r.URL.Query().Get("window_id"))
		windowID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || windowID <= 0 {
			http.Error(w, "window_id required", http.StatusBadRequest)
			return
		}
		if err := h.repo.DeleteWindow(ctx, claims.OwnerID, windowID); err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "window not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to delete window", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// parseClock accepts HH:mm and returns minutes since midnight.
func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

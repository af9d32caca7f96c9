// Package api provides HTTP handlers for the admin/ops API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/identity"
	"github.com/ashureev/lotline/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler serves the admin endpoints: health and dealer registration.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.health)
	r.Post("/api/dealers", h.registerDealer)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerDealerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type dealerResponse struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// registerDealer upserts a dealer so inbound submissions from its phone
// number can be finalized.
func (h *Handler) registerDealer(w http.ResponseWriter, r *http.Request) {
	var req registerDealerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "malformed request body")
		return
	}

	phone := identity.NormalizePhone(req.Phone)
	if phone == "" {
		Error(w, http.StatusBadRequest, "phone is required")
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	dealer, err := h.repo.GetDealerByPhone(r.Context(), phone)
	if err != nil {
		slog.Error("failed to look up dealer", "error", err)
		Error(w, http.StatusInternalServerError, "failed to look up dealer")
		return
	}

	now := time.Now()
	if dealer == nil {
		dealer = &domain.Dealer{
			ID:        uuid.NewString(),
			Phone:     phone,
			CreatedAt: now,
		}
	}
	dealer.Name = req.Name
	dealer.UpdatedAt = now

	if err := h.repo.UpsertDealer(r.Context(), dealer); err != nil {
		slog.Error("failed to upsert dealer", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save dealer")
		return
	}

	JSON(w, http.StatusOK, dealerResponse{ID: dealer.ID, Phone: dealer.Phone, Name: dealer.Name})
}

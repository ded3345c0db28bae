// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/service"
)

const maxBodyBytes = 1 << 20

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	registrations *service.RegistrationService
	gate          *service.AdmissionGate
	catalog       *service.CatalogService
	validator     *service.Validator
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(
	registrations *service.RegistrationService,
	gate *service.AdmissionGate,
	catalog *service.CatalogService,
	validator *service.Validator,
) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations, gate: gate, catalog: catalog, validator: validator}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, service.ErrValidationFailed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRegistrationClosed):
		writeError(w, http.StatusConflict, "registration is closed")
	case errors.Is(err, service.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "no free seat left in a timeslot")
	case errors.Is(err, service.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "this email address is already registered")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrStoreConflict), errors.Is(err, service.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, please try again")
	default:
		logging.FromContext(r.Context(), nil).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Admission handles GET /admission
// Tells the registration form whether to show itself.
func (h *RegistrationHandler) Admission(w http.ResponseWriter, r *http.Request) {
	state, err := h.gate.State(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewAdmissionStatus(state))
}

// Departments handles GET /departments
func (h *RegistrationHandler) Departments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.validator.Departments())
}

// Timeslots handles GET /timeslots
// Returns the ordered timeslots with current session availability.
func (h *RegistrationHandler) Timeslots(w http.ResponseWriter, r *http.Request) {
	overview, err := h.catalog.Overview(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if overview == nil {
		overview = []model.TimeslotOverview{}
	}
	writeJSON(w, http.StatusOK, overview)
}

// Register handles POST /registrations
// Registers an internal attendee and assigns their schedule.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var cand model.Candidate
	if err := decodeJSON(w, r, &cand); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cand.IsInternal = true

	reg, err := h.registrations.Register(r.Context(), cand)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// Schedule handles GET /registrations/{id}/schedule
func (h *RegistrationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registrations.Schedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ─── Admin ────────────────────────────────────────────────────────────────────

// UpdateAdmission handles PUT /admin/admission
func (h *RegistrationHandler) UpdateAdmission(w http.ResponseWriter, r *http.Request) {
	var upd model.AdmissionUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	state, err := h.gate.Update(r.Context(), upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewAdmissionStatus(state))
}

// RegisterExternal handles POST /admin/registrations
// Registers a guest from outside the organisation, bypassing the capacity gate.
func (h *RegistrationHandler) RegisterExternal(w http.ResponseWriter, r *http.Request) {
	var cand model.Candidate
	if err := decodeJSON(w, r, &cand); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.registrations.RegisterExternal(r.Context(), cand)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ImportCatalog handles POST /admin/catalog
// Accepts a YAML catalog file and imports it in one transaction.
func (h *RegistrationHandler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	f, err := service.ParseCatalog(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.catalog.Import(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

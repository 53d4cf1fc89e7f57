package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/automation"
)

var validTriggers = map[string]bool{
	automation.TriggerAbandonedCart: true,
	automation.TriggerPostPurchase:  true,
	automation.TriggerWelcome:       true,
	automation.TriggerWinback:       true,
	automation.TriggerManual:        true,
}

var validStepTypes = map[string]bool{
	automation.StepTypeEmail:     true,
	automation.StepTypeSMS:       true,
	automation.StepTypeDelay:     true,
	automation.StepTypeCondition: true,
}

func (h *Handlers) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if a.ShopDomain == "" || a.Name == "" {
		writeError(w, http.StatusBadRequest, "shop_domain and name are required")
		return
	}
	if !validTriggers[a.TriggerType] {
		writeError(w, http.StatusBadRequest, "unknown trigger_type")
		return
	}
	if err := h.Store.CreateAutomation(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create automation")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) GetAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	a, err := h.Store.AutomationByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load automation")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) ListAutomations(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	trigger := r.URL.Query().Get("trigger_type")
	if trigger != "" && !validTriggers[trigger] {
		writeError(w, http.StatusBadRequest, "unknown trigger_type")
		return
	}
	automations, err := h.Store.AutomationsByTrigger(r.Context(), shop, trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list automations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"automations": automations})
}

func (h *Handlers) UpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	existing, err := h.Store.AutomationByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load automation")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if a.TriggerType != "" && !validTriggers[a.TriggerType] {
		writeError(w, http.StatusBadRequest, "unknown trigger_type")
		return
	}
	a.ID = id
	if err := h.Store.UpdateAutomation(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update automation")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) CreateStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	a, err := h.Store.AutomationByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load automation")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	var st automation.Step
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !validStepTypes[st.StepType] {
		writeError(w, http.StatusBadRequest, "unknown step_type")
		return
	}
	if st.DelayMinutes < 0 {
		writeError(w, http.StatusBadRequest, "delay_minutes must not be negative")
		return
	}
	st.AutomationID = id
	if err := h.Store.CreateStep(r.Context(), &st); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create step")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	steps, err := h.Store.StepsForAutomation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

func (h *Handlers) EnrollManually(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	var req struct {
		CustomerID *uuid.UUID      `json:"customer_id"`
		Email      string          `json:"email"`
		Metadata   json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" && req.CustomerID == nil {
		writeError(w, http.StatusBadRequest, "email or customer_id is required")
		return
	}
	e, err := h.Triggers.Enroll(r.Context(), id, automation.EnrollmentContext{
		CustomerID: req.CustomerID,
		Email:      req.Email,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enroll")
		return
	}
	if e == nil {
		writeError(w, http.StatusConflict, "automation is inactive or has no steps")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"enrollment_id": e.ID})
}

// Package api exposes the engine over HTTP: provider webhook callbacks,
// trigger ingestion, analytics reads and rule administration.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/abtest"
	"github.com/ignite/lifecycle-engine/internal/automation"
	"github.com/ignite/lifecycle-engine/internal/personalize"
	"github.com/ignite/lifecycle-engine/internal/templates"
)

// Handlers carries the service dependencies for all routes.
type Handlers struct {
	Store        *automation.Store
	Triggers     *automation.TriggerProcessor
	Tracker      *automation.Tracker
	Analyzer     *automation.Analyzer
	Winback      *automation.WinbackDetector
	ABTests      *abtest.Engine
	ABStore      *abtest.Store
	Personalizer *personalize.Engine
	Templates    *templates.Store
	Renderer     *templates.Renderer
	Health       func(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// HealthCheck reports process liveness and, when wired, database health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// ---- webhook callbacks ----

type stepLogEvent struct {
	StepLogID uuid.UUID `json:"step_log_id"`
}

type messageEvent struct {
	ExternalMessageID string `json:"external_message_id"`
}

type conversionEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	Value        float64   `json:"value"`
}

func (h *Handlers) EmailOpened(w http.ResponseWriter, r *http.Request) {
	var ev stepLogEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.StepLogID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "step_log_id is required")
		return
	}
	if err := h.Tracker.TrackEmailOpened(r.Context(), ev.StepLogID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record open")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) EmailClicked(w http.ResponseWriter, r *http.Request) {
	var ev stepLogEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.StepLogID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "step_log_id is required")
		return
	}
	if err := h.Tracker.TrackEmailClicked(r.Context(), ev.StepLogID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record click")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) EmailUnsubscribed(w http.ResponseWriter, r *http.Request) {
	var ev stepLogEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.StepLogID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "step_log_id is required")
		return
	}
	if err := h.Tracker.TrackUnsubscribed(r.Context(), ev.StepLogID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record unsubscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) EmailDelivered(w http.ResponseWriter, r *http.Request) {
	var ev messageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.ExternalMessageID == "" {
		writeError(w, http.StatusBadRequest, "external_message_id is required")
		return
	}
	if err := h.Tracker.TrackEmailDelivered(r.Context(), ev.ExternalMessageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record delivery")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) EmailBounced(w http.ResponseWriter, r *http.Request) {
	var ev messageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.ExternalMessageID == "" {
		writeError(w, http.StatusBadRequest, "external_message_id is required")
		return
	}
	if err := h.Tracker.TrackEmailBounced(r.Context(), ev.ExternalMessageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record bounce")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) Conversion(w http.ResponseWriter, r *http.Request) {
	var ev conversionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.EnrollmentID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "enrollment_id is required")
		return
	}
	if ev.Value < 0 {
		writeError(w, http.StatusBadRequest, "value must not be negative")
		return
	}
	if err := h.Tracker.TrackConversion(r.Context(), ev.EnrollmentID, ev.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record conversion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- trigger ingestion ----

func (h *Handlers) shopParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		writeError(w, http.StatusBadRequest, "shop query parameter is required")
		return "", false
	}
	return shop, true
}

func (h *Handlers) AbandonedCartTrigger(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	var cart personalize.CartData
	if err := json.NewDecoder(r.Body).Decode(&cart); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cart.CheckoutID == "" {
		writeError(w, http.StatusBadRequest, "checkout_id is required")
		return
	}
	ids, err := h.Triggers.ProcessAbandonedCart(r.Context(), shop, cart)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enrollments": ids, "count": len(ids)})
}

func (h *Handlers) PostPurchaseTrigger(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	var trigger automation.PostPurchaseTrigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if trigger.OrderID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	ids, err := h.Triggers.ProcessPostPurchase(r.Context(), shop, trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enrollments": ids, "count": len(ids)})
}

func (h *Handlers) WelcomeTrigger(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	var trigger automation.WelcomeTrigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if trigger.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	ids, err := h.Triggers.ProcessWelcome(r.Context(), shop, trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process trigger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enrollments": ids, "count": len(ids)})
}

func (h *Handlers) ExitEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "enrollmentID")
	if !ok {
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	exited, err := h.Triggers.ExitAutomation(r.Context(), id, reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to exit enrollment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exited": exited})
}

// ---- analytics ----

func (h *Handlers) AutomationAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	out, err := h.Analyzer.AutomationAnalytics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) StepAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	out, err := h.Analyzer.StepAnalytics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) EnrollmentList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	enrollments, total, err := h.Store.EnrollmentPage(r.Context(), id, status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enrollments": enrollments,
		"total":       total,
	})
}

// ---- A/B testing ----

func stepScope(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("step_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handlers) ABTestStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	stepID, err := stepScope(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step_id")
		return
	}
	stats, err := h.ABTests.Statistics(r.Context(), id, stepID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"variants": stats})
}

func (h *Handlers) ABTestApplyWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	stepID, err := stepScope(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step_id")
		return
	}
	applied, err := h.ABTests.ApplyWinner(r.Context(), id, stepID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply winner")
		return
	}
	if !applied {
		writeError(w, http.StatusConflict, "no statistically significant winner yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

func (h *Handlers) CreateVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "automationID")
	if !ok {
		return
	}
	var v abtest.Variant
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if v.VariantName == "" {
		writeError(w, http.StatusBadRequest, "variant_name is required")
		return
	}
	if v.Weight < 0 {
		writeError(w, http.StatusBadRequest, "weight must not be negative")
		return
	}
	v.AutomationID = id
	if err := h.ABStore.CreateVariant(r.Context(), &v); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create variant")
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handlers) DeleteVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "variantID")
	if !ok {
		return
	}
	if err := h.ABStore.DeleteVariant(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete variant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- personalization ----

func (h *Handlers) PersonalizationTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": h.Personalizer.Registry().All(),
	})
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h *Handlers) PersonalizationValidate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	invalid := h.Personalizer.ValidateTokens(req.Content)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":          len(invalid) == 0,
		"invalid_tokens": invalid,
	})
}

func (h *Handlers) PersonalizationPreview(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"preview": h.Personalizer.PreviewWithSampleData(req.Content),
	})
}

// ---- win-back rules ----

func (h *Handlers) ListWinbackRules(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	rules, err := h.Store.WinbackRulesForShop(r.Context(), shop, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (h *Handlers) CreateWinbackRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.WinbackRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if rule.ShopDomain == "" || rule.AutomationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "shop_domain and automation_id are required")
		return
	}
	if rule.DaysInactive <= 0 {
		writeError(w, http.StatusBadRequest, "days_inactive must be positive")
		return
	}
	if err := h.Store.CreateWinbackRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handlers) UpdateWinbackRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "ruleID")
	if !ok {
		return
	}
	existing, err := h.Store.WinbackRuleByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	var rule automation.WinbackRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rule.ID = id
	if err := h.Store.UpdateWinbackRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) DeleteWinbackRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "ruleID")
	if !ok {
		return
	}
	if err := h.Store.DeleteWinbackRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RunWinbackScan triggers an immediate scan for one shop, outside the timer.
func (h *Handlers) RunWinbackScan(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	n, err := h.Winback.ProcessWinbackTriggers(r.Context(), shop)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to run scan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"enrolled": n})
}

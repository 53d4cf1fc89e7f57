package api

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/lifecycle-engine/internal/templates"
)

var validTemplateStatuses = map[string]bool{
	templates.StatusDraft:     true,
	templates.StatusPublished: true,
	templates.StatusArchived:  true,
}

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	out, err := h.Templates.ForShop(r.Context(), shop)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": out})
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "templateID")
	if !ok {
		return
	}
	t, err := h.Templates.ByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t templates.EmailTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if t.ShopDomain == "" || t.Name == "" || t.Body == "" {
		writeError(w, http.StatusBadRequest, "shop_domain, name and body are required")
		return
	}
	if t.Status != "" && !validTemplateStatuses[t.Status] {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if err := h.Renderer.Validate(t.Body); err != nil {
		writeError(w, http.StatusBadRequest, "template does not parse: "+err.Error())
		return
	}
	if err := h.Templates.Create(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "templateID")
	if !ok {
		return
	}
	existing, err := h.Templates.ByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	var t templates.EmailTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if t.Status != "" && !validTemplateStatuses[t.Status] {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	// fields omitted from the payload keep their stored values
	if t.Name == "" {
		t.Name = existing.Name
	}
	if t.Subject == "" {
		t.Subject = existing.Subject
	}
	if t.Body == "" {
		t.Body = existing.Body
	}
	if t.Status == "" {
		t.Status = existing.Status
	}
	if err := h.Renderer.Validate(t.Body); err != nil {
		writeError(w, http.StatusBadRequest, "template does not parse: "+err.Error())
		return
	}
	t.ID = id
	t.ShopDomain = existing.ShopDomain
	if err := h.Templates.Update(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "templateID")
	if !ok {
		return
	}
	if err := h.Templates.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

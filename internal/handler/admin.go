package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/impresshq/impress/internal/store"
)

// requireAdmin guards the admin surface with a static bearer token.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			writeError(w, http.StatusNotFound, "not found", "admin API is disabled")
			return
		}
		token := requestToken(r, "")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err.Error())
		return false
	}
	return true
}

// Addresses.

func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.store.ListAddresses(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) {
	var a store.EmailAddress
	if !decode(w, r, &a) {
		return
	}
	if err := h.store.CreateAddress(r.Context(), &a); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) getAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.store.AddressByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) updateAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var a store.EmailAddress
	if !decode(w, r, &a) {
		return
	}
	a.ID = id
	if err := h.store.UpdateAddress(r.Context(), &a); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) deleteAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAddress(r.Context(), id); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createUnsubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AddressID uuid.UUID `json:"address_id"`
		ServiceID uuid.UUID `json:"service_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.store.Unsubscribe(r.Context(), req.AddressID, req.ServiceID); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Distributions.

func (h *Handler) listDistributions(w http.ResponseWriter, r *http.Request) {
	dists, err := h.store.ListDistributions(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, dists)
}

func (h *Handler) createDistribution(w http.ResponseWriter, r *http.Request) {
	var d store.Distribution
	if !decode(w, r, &d) {
		return
	}
	if err := h.store.CreateDistribution(r.Context(), &d); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) getDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.store.DistributionByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) updateDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var d store.Distribution
	if !decode(w, r, &d) {
		return
	}
	d.ID = id
	if err := h.store.UpdateDistribution(r.Context(), &d); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) deleteDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteDistribution(r.Context(), id); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Templates.

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.store.ListTemplates(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var t store.Template
	if !decode(w, r, &t) {
		return
	}
	if err := h.store.CreateTemplate(r.Context(), &t); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.store.TemplateByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var t store.Template
	if !decode(w, r, &t) {
		return
	}
	t.ID = id
	if err := h.store.UpdateTemplate(r.Context(), &t); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteTemplate(r.Context(), id); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Services.

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.store.ListServices(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, svcs)
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var svc store.Service
	if !decode(w, r, &svc) {
		return
	}
	if err := h.store.CreateService(r.Context(), &svc); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	svc, err := h.store.ServiceByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var svc store.Service
	if !decode(w, r, &svc) {
		return
	}
	svc.ID = id
	if err := h.store.UpdateService(r.Context(), &svc); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteService(r.Context(), id); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setServiceRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	var req struct {
		AddressIDs      []uuid.UUID `json:"address_ids"`
		DistributionIDs []uuid.UUID `json:"distribution_ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.store.SetServiceRecipients(r.Context(), id, kind, req.AddressIDs, req.DistributionIDs); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rate limits.

func (h *Handler) listRateLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.store.ListRateLimits(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (h *Handler) createRateLimit(w http.ResponseWriter, r *http.Request) {
	var rl store.RateLimit
	if !decode(w, r, &rl) {
		return
	}
	if err := h.store.CreateRateLimit(r.Context(), &rl); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rl)
}

func (h *Handler) getRateLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rl, err := h.store.RateLimitByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (h *Handler) updateRateLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var rl store.RateLimit
	if !decode(w, r, &rl) {
		return
	}
	rl.ID = id
	if err := h.store.UpdateRateLimit(r.Context(), &rl); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (h *Handler) deleteRateLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteRateLimit(r.Context(), id); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages (read-only).

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	var serviceID uuid.UUID
	if raw := r.URL.Query().Get("service_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed service_id", err.Error())
			return
		}
		serviceID = id
	}
	msgs, err := h.store.ListMessages(r.Context(), serviceID, 0)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.store.MessageByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

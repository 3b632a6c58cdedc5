package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/impresshq/impress/internal/dispatch"
	"github.com/impresshq/impress/internal/store"
)

// sendPayload is the request body for POST /api/send_message. Body accepts
// either a plain string or a JSON object (kept raw; the dispatcher applies
// the service's JSON body policy).
type sendPayload struct {
	Token       string          `json:"token"`
	ServiceName string          `json:"service_name"`
	Subject     string          `json:"subject"`
	Body        json.RawMessage `json:"body"`
	Recipients  []string        `json:"recipients"`
	To          []string        `json:"to"`
	CC          []string        `json:"cc"`
	BCC         []string        `json:"bcc"`
	From        string          `json:"from"`
	Template    string          `json:"template"`
}

// bodyString flattens the raw body field: JSON strings are unquoted, any
// other JSON value is passed through as its source text.
func (p *sendPayload) bodyString() string {
	if len(p.Body) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Body, &s); err == nil {
		return s
	}
	return string(p.Body)
}

// toRecipients merges the legacy "recipients" field with "to".
func (p *sendPayload) toRecipients() []string {
	if len(p.Recipients) == 0 {
		return p.To
	}
	return append(append([]string{}, p.Recipients...), p.To...)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}
	if payload.ServiceName == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid input", "service_name is required")
		return
	}

	svc, err := h.store.ServiceByName(r.Context(), payload.ServiceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found", "unknown service")
			return
		}
		writeStoreError(w, h.log, err)
		return
	}

	token := requestToken(r, payload.Token)
	if subtle.ConstantTimeCompare([]byte(token), []byte(svc.AccessToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
		return
	}

	receipt, err := h.dispatcher.Dispatch(r.Context(), svc, &dispatch.Request{
		Token:    token,
		Subject:  payload.Subject,
		Body:     payload.bodyString(),
		Template: payload.Template,
		From:     payload.From,
		To:       payload.toRecipients(),
		CC:       payload.CC,
		BCC:      payload.BCC,
	})
	if err != nil {
		h.log.WarnContext(r.Context(), "send rejected",
			slog.String("service", payload.ServiceName), slog.Any("error", err))
		writeDispatchError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     receipt.MessageID.String(),
		"status": string(receipt.Status),
	})
}

// requestToken extracts the caller's token from the Authorization header
// (Bearer or Token scheme) or falls back to the body field.
func requestToken(r *http.Request, bodyToken string) string {
	auth := r.Header.Get("Authorization")
	for _, scheme := range []string{"Bearer ", "Token "} {
		if len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
			return strings.TrimSpace(auth[len(scheme):])
		}
	}
	return bodyToken
}

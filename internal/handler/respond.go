package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/impresshq/impress/internal/dispatch"
	"github.com/impresshq/impress/internal/render"
	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/mailer"
)

// errorBody is the JSON error response shape for every endpoint.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}

// writeDispatchError maps dispatch, render, and transport failures onto HTTP
// statuses. Configuration and render problems are the caller's to fix (4xx);
// delivery problems are upstream (502/503).
func writeDispatchError(w http.ResponseWriter, log *slog.Logger, err error) {
	var limited *dispatch.RateLimitedError

	switch {
	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", err.Error())

	case errors.Is(err, dispatch.ErrServiceInactive),
		errors.Is(err, dispatch.ErrTemplateNotAllowed),
		errors.Is(err, dispatch.ErrFromNotAllowed):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err.Error())

	case errors.Is(err, dispatch.ErrJSONBodyRequired),
		errors.Is(err, dispatch.ErrNoRecipients),
		errors.Is(err, store.ErrInvalidAddress),
		errors.Is(err, render.ErrMissingVariable),
		errors.Is(err, render.ErrRenderFailed),
		errors.Is(err, render.ErrTemplateNotFound),
		errors.Is(err, render.ErrInheritanceCycle),
		errors.Is(err, mailer.ErrNoRecipient),
		errors.Is(err, mailer.ErrNoSender),
		errors.Is(err, mailer.ErrNoSubject),
		errors.Is(err, mailer.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, "unprocessable message", err.Error())

	case errors.Is(err, mailer.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "mail transport unavailable", err.Error())

	case errors.Is(err, mailer.ErrRejected),
		errors.Is(err, mailer.ErrAuthenticationFailed):
		writeError(w, http.StatusBadGateway, "mail transport rejected message", err.Error())

	default:
		log.Error("unhandled dispatch error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// writeStoreError maps persistence failures for the admin CRUD endpoints.
func writeStoreError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists", err.Error())
	case errors.Is(err, store.ErrReferenced):
		writeError(w, http.StatusConflict, "still referenced", err.Error())
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrInvalidAddress):
		writeError(w, http.StatusUnprocessableEntity, "invalid input", err.Error())
	default:
		log.Error("unhandled store error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

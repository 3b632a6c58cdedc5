package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/impresshq/impress/internal/dispatch"
	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/mailer"
)

// fakeStore implements the methods the tests reach; everything else panics
// through the embedded nil interface.
type fakeStore struct {
	Store
	services  map[string]*store.Service
	addresses map[uuid.UUID]*store.EmailAddress
	messages  []store.Message
}

func (f *fakeStore) ServiceByName(_ context.Context, name string) (*store.Service, error) {
	svc, ok := f.services[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return svc, nil
}

func (f *fakeStore) AddressByID(_ context.Context, id uuid.UUID) (*store.EmailAddress, error) {
	a, ok := f.addresses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListMessages(_ context.Context, _ uuid.UUID, _ int) ([]store.Message, error) {
	return f.messages, nil
}

type fakeDispatcher struct {
	receipt *dispatch.Receipt
	err     error
	lastReq *dispatch.Request
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *store.Service, req *dispatch.Request) (*dispatch.Receipt, error) {
	f.lastReq = req
	if f.err != nil {
		return f.receipt, f.err
	}
	return f.receipt, nil
}

func newTestHandler(d *fakeDispatcher) (*fakeStore, http.Handler) {
	st := &fakeStore{
		services: map[string]*store.Service{
			"alerts": {
				ID:          uuid.New(),
				Name:        "alerts",
				AccessToken: "svc-secret",
				Active:      true,
			},
		},
		addresses: map[uuid.UUID]*store.EmailAddress{},
	}
	h := New(st, d, "admin-secret", nil, nil)
	return st, h.Router()
}

func postSend(t *testing.T, router http.Handler, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/send_message", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageSuccess(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	d := &fakeDispatcher{receipt: &dispatch.Receipt{MessageID: id, Status: store.MessageSent}}
	_, router := newTestHandler(d)

	rec := postSend(t, router, map[string]any{
		"service_name": "alerts",
		"token":        "svc-secret",
		"subject":      "Hello",
		"body":         "World",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id.String(), resp["id"])
	require.Equal(t, "sent", resp["status"])
	require.Equal(t, "World", d.lastReq.Body)
}

func TestSendMessageTokenViaHeader(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{receipt: &dispatch.Receipt{MessageID: uuid.New(), Status: store.MessageSent}}
	_, router := newTestHandler(d)

	for _, scheme := range []string{"Bearer", "Token"} {
		rec := postSend(t, router, map[string]any{
			"service_name": "alerts",
			"subject":      "Hello",
			"body":         "World",
		}, map[string]string{"Authorization": scheme + " svc-secret"})
		require.Equal(t, http.StatusOK, rec.Code, "scheme %s", scheme)
	}
}

func TestSendMessageUnauthorized(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	_, router := newTestHandler(d)

	rec := postSend(t, router, map[string]any{
		"service_name": "alerts",
		"token":        "wrong",
		"subject":      "Hello",
		"body":         "World",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, d.lastReq)
}

func TestSendMessageUnknownService(t *testing.T) {
	t.Parallel()

	_, router := newTestHandler(&fakeDispatcher{})
	rec := postSend(t, router, map[string]any{
		"service_name": "nope",
		"token":        "svc-secret",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"inactive service", dispatch.ErrServiceInactive, http.StatusForbidden},
		{"template not allowed", dispatch.ErrTemplateNotAllowed, http.StatusForbidden},
		{"json body required", dispatch.ErrJSONBodyRequired, http.StatusUnprocessableEntity},
		{"no recipients", dispatch.ErrNoRecipients, http.StatusUnprocessableEntity},
		{"transport down", mailer.ErrTransportUnavailable, http.StatusServiceUnavailable},
		{"rejected", mailer.ErrRejected, http.StatusBadGateway},
		{"upstream auth", mailer.ErrAuthenticationFailed, http.StatusBadGateway},
		{"unknown template", store.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, router := newTestHandler(&fakeDispatcher{err: tc.err})
			rec := postSend(t, router, map[string]any{
				"service_name": "alerts",
				"token":        "svc-secret",
				"subject":      "x",
				"body":         "y",
			}, nil)
			require.Equal(t, tc.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{err: &dispatch.RateLimitedError{RetryAfter: 30 * time.Second}}
	_, router := newTestHandler(d)

	rec := postSend(t, router, map[string]any{
		"service_name": "alerts",
		"token":        "svc-secret",
		"subject":      "x",
		"body":         "y",
	}, nil)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestSendMessageJSONObjectBody(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{receipt: &dispatch.Receipt{MessageID: uuid.New(), Status: store.MessageSent}}
	_, router := newTestHandler(d)

	rec := postSend(t, router, map[string]any{
		"service_name": "alerts",
		"token":        "svc-secret",
		"subject":      "Hello",
		"body":         map[string]any{"name": "Fred"},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"name":"Fred"}`, d.lastReq.Body)
}

func TestAdminRequiresToken(t *testing.T) {
	t.Parallel()

	st, router := newTestHandler(&fakeDispatcher{})
	addr := &store.EmailAddress{ID: uuid.New(), Address: "fred@example.com"}
	st.addresses[addr.ID] = addr

	t.Run("rejects missing token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/addresses/"+addr.ID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("accepts admin bearer token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/addresses/"+addr.ID.String(), nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var got store.EmailAddress
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Equal(t, addr.Address, got.Address)
	})
}

func TestAdminListMessages(t *testing.T) {
	t.Parallel()

	st, router := newTestHandler(&fakeDispatcher{})
	st.messages = []store.Message{{ID: uuid.New(), Status: store.MessageSent}}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/messages", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	_, router := newTestHandler(&fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

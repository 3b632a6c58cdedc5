package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/impresshq/impress/pkg/mailer"
)

func testEmail() *mailer.Email {
	return &mailer.Email{
		From:    "noreply@example.com",
		Subject: "Hello",
		Text:    "World",
		To:      []string{"fred@example.com"},
	}
}

func TestSendForwardsPayload(t *testing.T) {
	t.Parallel()

	var got payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","status":"sent"}`))
	}))
	defer srv.Close()

	s := New(Config{Target: srv.URL, Token: "tok", Service: "relay", Timeout: 5 * time.Second})
	require.NoError(t, s.Send(context.Background(), testEmail()))

	require.Equal(t, "Token tok", auth)
	require.Equal(t, "relay", got.ServiceName)
	require.Equal(t, "Hello", got.Subject)
	require.Equal(t, "World", got.Body)
	require.Equal(t, []string{"fred@example.com"}, got.To)
}

func TestSendStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, mailer.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, mailer.ErrAuthenticationFailed},
		{"unprocessable", http.StatusUnprocessableEntity, mailer.ErrRejected},
		{"server error", http.StatusInternalServerError, mailer.ErrTransportUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope","detail":""}`))
			}))
			defer srv.Close()

			s := New(Config{Target: srv.URL, Token: "tok", Service: "relay", Timeout: 5 * time.Second})
			err := s.Send(context.Background(), testEmail())
			require.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestSendConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately unreachable

	s := New(Config{Target: srv.URL, Token: "tok", Service: "relay", Timeout: time.Second})
	err := s.Send(context.Background(), testEmail())
	require.ErrorIs(t, err, mailer.ErrTransportUnavailable)
}

func TestSendInvalidEmailRejectedLocally(t *testing.T) {
	t.Parallel()

	s := New(Config{Target: "http://127.0.0.1:0", Token: "tok", Service: "relay", Timeout: time.Second})
	err := s.Send(context.Background(), &mailer.Email{})
	require.ErrorIs(t, err, mailer.ErrRejected)
}

package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	t.Run("lowercases bare addresses", func(t *testing.T) {
		t.Parallel()
		got, err := NormalizeAddress("Fred@Example.COM")
		require.NoError(t, err)
		require.Equal(t, "fred@example.com", got)
	})

	t.Run("extracts address from display form", func(t *testing.T) {
		t.Parallel()
		got, err := NormalizeAddress(`"Fred Smith" <Fred@example.com>`)
		require.NoError(t, err)
		require.Equal(t, "fred@example.com", got)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		t.Parallel()
		got, err := NormalizeAddress("  fred@example.com  ")
		require.NoError(t, err)
		require.Equal(t, "fred@example.com", got)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		t.Parallel()
		_, err := NormalizeAddress("   ")
		require.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		t.Parallel()
		_, err := NormalizeAddress("not an address")
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestTemplateValidate(t *testing.T) {
	t.Parallel()

	t.Run("fills defaults", func(t *testing.T) {
		t.Parallel()
		tpl := &Template{Name: "welcome"}
		require.NoError(t, tpl.Validate())
		require.Equal(t, FormatHTML, tpl.Format)
		require.Equal(t, DefaultSubject, tpl.Subject)
		require.Equal(t, DefaultBodyHTML, tpl.BodyHTML)
	})

	t.Run("requires a name", func(t *testing.T) {
		t.Parallel()
		tpl := &Template{}
		require.ErrorIs(t, tpl.Validate(), ErrInvalidInput)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		t.Parallel()
		tpl := &Template{Name: "welcome", Format: "rtf"}
		require.ErrorIs(t, tpl.Validate(), ErrInvalidInput)
	})

	t.Run("leaves plaintext empty when autogenerated", func(t *testing.T) {
		t.Parallel()
		tpl := &Template{Name: "welcome", AutogeneratePlaintext: true}
		require.NoError(t, tpl.Validate())
		require.Empty(t, tpl.BodyPlaintext)
	})
}

func TestServiceValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Service {
		return &Service{
			Name:            "billing_alerts",
			AccessToken:     "secret",
			DefaultSenderID: uuid.New(),
		}
	}

	t.Run("accepts a minimal service", func(t *testing.T) {
		t.Parallel()
		svc := valid()
		require.NoError(t, svc.Validate())
		require.Equal(t, JSONBodyForbid, svc.JSONBodyPolicy)
	})

	t.Run("rejects names with invalid characters", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"Billing", "billing-alerts", "billing alerts", ""} {
			svc := valid()
			svc.Name = name
			require.ErrorIs(t, svc.Validate(), ErrInvalidInput, "name %q", name)
		}
	})

	t.Run("requires an access token", func(t *testing.T) {
		t.Parallel()
		svc := valid()
		svc.AccessToken = ""
		require.ErrorIs(t, svc.Validate(), ErrInvalidInput)
	})

	t.Run("requires a default sender", func(t *testing.T) {
		t.Parallel()
		svc := valid()
		svc.DefaultSenderID = uuid.Nil
		require.ErrorIs(t, svc.Validate(), ErrInvalidInput)
	})

	t.Run("default template must be in the allowed set", func(t *testing.T) {
		t.Parallel()
		tplID := uuid.New()
		svc := valid()
		svc.DefaultTemplateID = &tplID
		require.ErrorIs(t, svc.Validate(), ErrInvalidInput)

		svc.AllowedTemplateIDs = []uuid.UUID{tplID}
		require.NoError(t, svc.Validate())
	})
}

func TestRateLimitValidate(t *testing.T) {
	t.Parallel()

	t.Run("fills defaults", func(t *testing.T) {
		t.Parallel()
		rl := &RateLimit{Name: "hourly", Quantity: 10, Window: time.Hour}
		require.NoError(t, rl.Validate())
		require.Equal(t, StrategyFixed, rl.Strategy)
		require.Equal(t, ScopeTotal, rl.Scope)
	})

	t.Run("rejects nonpositive quantity or window", func(t *testing.T) {
		t.Parallel()
		rl := &RateLimit{Name: "hourly", Quantity: 0, Window: time.Hour}
		require.ErrorIs(t, rl.Validate(), ErrInvalidInput)

		rl = &RateLimit{Name: "hourly", Quantity: 10}
		require.ErrorIs(t, rl.Validate(), ErrInvalidInput)
	})
}

func TestDedupeAddresses(t *testing.T) {
	t.Parallel()

	a := EmailAddress{ID: uuid.New(), Address: "a@example.com"}
	b := EmailAddress{ID: uuid.New(), Address: "b@example.com"}
	dup := EmailAddress{ID: uuid.New(), Address: "A@example.com"}

	got := dedupeAddresses([]EmailAddress{a, b, dup, a})
	require.Len(t, got, 2)
	require.Equal(t, a.Address, got[0].Address)
	require.Equal(t, b.Address, got[1].Address)
}

func TestEmailAddressRecipient(t *testing.T) {
	t.Parallel()

	a := EmailAddress{Address: "fred@example.com", DisplayName: "Fred"}
	require.Equal(t, "Fred <fred@example.com>", a.Recipient())

	bare := EmailAddress{Address: "fred@example.com"}
	require.Equal(t, "fred@example.com", bare.Recipient())
}

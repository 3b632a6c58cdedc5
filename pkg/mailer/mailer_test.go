package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmailValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Email {
		return &Email{
			From:    "noreply@example.com",
			Subject: "Hello",
			Text:    "body",
			To:      []string{"fred@example.com"},
		}
	}

	t.Run("valid email passes", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, valid().Validate())
	})

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()
		e := valid()
		e.To = nil
		require.ErrorIs(t, e.Validate(), ErrNoRecipient)
	})

	t.Run("missing sender", func(t *testing.T) {
		t.Parallel()
		e := valid()
		e.From = ""
		require.ErrorIs(t, e.Validate(), ErrNoSender)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		e := valid()
		e.Subject = ""
		require.ErrorIs(t, e.Validate(), ErrNoSubject)
	})

	t.Run("missing content", func(t *testing.T) {
		t.Parallel()
		e := valid()
		e.Text = ""
		e.HTML = ""
		require.ErrorIs(t, e.Validate(), ErrNoContent)
	})

	t.Run("html-only content is enough", func(t *testing.T) {
		t.Parallel()
		e := valid()
		e.Text = ""
		e.HTML = "<p>body</p>"
		require.NoError(t, e.Validate())
	})
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fred@example.com", Recipient("", "fred@example.com"))
	require.Equal(t, "Fred <fred@example.com>", Recipient("Fred", "fred@example.com"))
}

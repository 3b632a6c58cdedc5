package render

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/impresshq/impress/internal/store"
)

type fakeSource struct {
	templates map[uuid.UUID]*store.Template
}

func (f *fakeSource) TemplateByID(_ context.Context, id uuid.UUID) (*store.Template, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tpl, nil
}

func newSource(tpls ...*store.Template) *fakeSource {
	src := &fakeSource{templates: map[uuid.UUID]*store.Template{}}
	for _, tpl := range tpls {
		src.templates[tpl.ID] = tpl
	}
	return src
}

func TestRenderSubstitutesVariables(t *testing.T) {
	t.Parallel()

	r := New(newSource())
	tpl := &store.Template{
		Name:          "marketing",
		Subject:       "Subject: {{subject}}",
		BodyHTML:      "Body: {{body}} -- Sent by Acme",
		BodyPlaintext: "Body: {{body}} -- Sent by Acme",
		Format:        store.FormatHTML,
	}

	out, err := r.Render(context.Background(), tpl, map[string]any{
		"subject": "Hello",
		"body":    "World",
	})
	require.NoError(t, err)
	require.Equal(t, "Subject: Hello", out.Subject)
	require.Equal(t, "Body: World -- Sent by Acme", out.HTML)
	require.Equal(t, "Body: World -- Sent by Acme", out.Text)
}

func TestRenderPassthroughTemplate(t *testing.T) {
	t.Parallel()

	r := New(newSource())
	out, err := r.Render(context.Background(), store.PassthroughTemplate(), map[string]any{
		"subject": "Plain subject",
		"body":    "Plain body",
	})
	require.NoError(t, err)
	require.Equal(t, "Plain subject", out.Subject)
	require.Contains(t, out.HTML, "Plain body")
	require.Equal(t, "Plain body", out.Text)
}

func TestRenderMissingVariable(t *testing.T) {
	t.Parallel()

	tpl := &store.Template{
		Name:          "greeting",
		Subject:       "Hi {{name}}",
		BodyHTML:      "Hello {{name}}",
		BodyPlaintext: "Hello {{name}}",
		Format:        store.FormatHTML,
	}

	t.Run("permissive mode substitutes empty string", func(t *testing.T) {
		t.Parallel()
		r := New(newSource())
		out, err := r.Render(context.Background(), tpl, nil)
		require.NoError(t, err)
		require.Equal(t, "Hi ", out.Subject)
		require.Equal(t, "Hello ", out.HTML)
	})

	t.Run("strict mode fails and names the variable", func(t *testing.T) {
		t.Parallel()
		r := New(newSource(), Strict())
		_, err := r.Render(context.Background(), tpl, map[string]any{})
		require.ErrorIs(t, err, ErrMissingVariable)
		require.ErrorContains(t, err, "name")
	})

	t.Run("strict mode passes with all variables supplied", func(t *testing.T) {
		t.Parallel()
		r := New(newSource(), Strict())
		out, err := r.Render(context.Background(), tpl, map[string]any{"name": "Fred"})
		require.NoError(t, err)
		require.Equal(t, "Hi Fred", out.Subject)
	})
}

func TestRenderInheritance(t *testing.T) {
	t.Parallel()

	layout := &store.Template{
		ID:            uuid.New(),
		Name:          "footer",
		Subject:       "{{subject}}",
		BodyHTML:      "<main>{{content}}</main><footer>Sent by Acme</footer>",
		BodyPlaintext: "{{content}}\n--\nSent by Acme",
		Format:        store.FormatHTML,
	}
	child := &store.Template{
		ID:            uuid.New(),
		Name:          "marketing",
		Subject:       "News: {{subject}}",
		BodyHTML:      "<p>{{body}}</p>",
		BodyPlaintext: "{{body}}",
		Format:        store.FormatHTML,
		ExtendsID:     &layout.ID,
	}

	r := New(newSource(layout, child))
	out, err := r.Render(context.Background(), child, map[string]any{
		"subject": "Hello",
		"body":    "World",
	})
	require.NoError(t, err)
	require.Equal(t, "News: Hello", out.Subject)
	require.Equal(t, "<main><p>World</p></main><footer>Sent by Acme</footer>", out.HTML)
	// The text/plain alternative carries the layout content too.
	require.Equal(t, "World\n--\nSent by Acme", out.Text)
}

func TestRenderInheritancePlaintext(t *testing.T) {
	t.Parallel()

	t.Run("layout plaintext wraps the child", func(t *testing.T) {
		t.Parallel()
		layout := &store.Template{
			ID:            uuid.New(),
			Name:          "footer",
			Subject:       "{{subject}}",
			BodyHTML:      "<main>{{content}}</main>",
			BodyPlaintext: "{{content}}\nUnsubscribe: https://example.com/u",
			Format:        store.FormatHTML,
		}
		child := &store.Template{
			ID:            uuid.New(),
			Name:          "notice",
			Subject:       "{{subject}}",
			BodyHTML:      "<p>{{body}}</p>",
			BodyPlaintext: "{{body}}",
			Format:        store.FormatHTML,
			ExtendsID:     &layout.ID,
		}

		r := New(newSource(layout, child))
		out, err := r.Render(context.Background(), child, map[string]any{
			"subject": "s", "body": "Hello",
		})
		require.NoError(t, err)
		require.Equal(t, "Hello\nUnsubscribe: https://example.com/u", out.Text)
	})

	t.Run("layout without plaintext passes the child through", func(t *testing.T) {
		t.Parallel()
		layout := &store.Template{
			ID:       uuid.New(),
			Name:     "shell",
			Subject:  "{{subject}}",
			BodyHTML: "<main>{{content}}</main>",
			Format:   store.FormatHTML,
		}
		child := &store.Template{
			ID:            uuid.New(),
			Name:          "notice",
			Subject:       "{{subject}}",
			BodyHTML:      "<p>{{body}}</p>",
			BodyPlaintext: "{{body}}",
			Format:        store.FormatHTML,
			ExtendsID:     &layout.ID,
		}

		r := New(newSource(layout, child))
		out, err := r.Render(context.Background(), child, map[string]any{
			"subject": "s", "body": "Hello",
		})
		require.NoError(t, err)
		require.Equal(t, "<main><p>Hello</p></main>", out.HTML)
		require.Equal(t, "Hello", out.Text)
	})
}

func TestRenderInheritanceCycle(t *testing.T) {
	t.Parallel()

	a := &store.Template{ID: uuid.New(), Name: "a", Format: store.FormatHTML}
	b := &store.Template{ID: uuid.New(), Name: "b", Format: store.FormatHTML}
	a.ExtendsID = &b.ID
	b.ExtendsID = &a.ID
	a.BodyHTML = "{{content}}a"
	b.BodyHTML = "{{content}}b"
	a.Subject, b.Subject = "a", "b"

	r := New(newSource(a, b))
	_, err := r.Render(context.Background(), a, nil)
	require.ErrorIs(t, err, ErrInheritanceCycle)
}

func TestRenderMissingParent(t *testing.T) {
	t.Parallel()

	missing := uuid.New()
	child := &store.Template{
		ID:        uuid.New(),
		Name:      "orphan",
		Subject:   "x",
		BodyHTML:  "x",
		Format:    store.FormatHTML,
		ExtendsID: &missing,
	}

	r := New(newSource(child))
	_, err := r.Render(context.Background(), child, nil)
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	tpl := &store.Template{
		Name:                  "digest",
		Subject:               "{{subject}}",
		BodyHTML:              "# {{subject}}\n\nHello **{{name}}**",
		Format:                store.FormatMarkdown,
		AutogeneratePlaintext: true,
	}

	r := New(newSource())
	out, err := r.Render(context.Background(), tpl, map[string]any{
		"subject": "Weekly digest",
		"name":    "Fred",
	})
	require.NoError(t, err)
	require.Contains(t, out.HTML, "<h1>Weekly digest</h1>")
	require.Contains(t, out.HTML, "<strong>Fred</strong>")
	require.Contains(t, out.Text, "Weekly digest")
	require.Contains(t, out.Text, "Fred")
	require.NotContains(t, out.Text, "<strong>")
}

func TestVariables(t *testing.T) {
	t.Parallel()

	vars, err := Variables("Hello {{name}}, your {{thing}} is ready. Bye {{name}}")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "thing"}, vars)
}

func TestHTMLToPlaintext(t *testing.T) {
	t.Parallel()

	in := "<h1>Title</h1><p>First &amp; second line.<br>Third line.</p><div>Footer</div>"
	out := HTMLToPlaintext(in)
	require.Equal(t, "Title\nFirst & second line.\nThird line.\nFooter", out)
}

package seed

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/impresshq/impress/internal/store"
)

type fakeStore struct {
	templates map[string]*store.Template
	order     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{templates: map[string]*store.Template{}}
}

func (f *fakeStore) UpsertTemplate(_ context.Context, t *store.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if existing, ok := f.templates[t.Name]; ok {
		t.ID = existing.ID
	}
	f.templates[t.Name] = t
	f.order = append(f.order, t.Name)
	return nil
}

func (f *fakeStore) TemplateByName(_ context.Context, name string) (*store.Template, error) {
	t, ok := f.templates[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("frontmatter and body", func(t *testing.T) {
		t.Parallel()
		content := []byte("---\nname: welcome\nsubject: \"Welcome, {{name}}\"\nformat: markdown\n---\n# Hello {{name}}\n")
		f, err := Parse("welcome.md", content)
		require.NoError(t, err)
		require.Equal(t, "welcome", f.Name)
		require.Equal(t, "Welcome, {{name}}", f.Template.Subject)
		require.Equal(t, store.FormatMarkdown, f.Template.Format)
		require.Equal(t, "# Hello {{name}}\n", f.Template.BodyHTML)
		require.True(t, f.Template.AutogeneratePlaintext)
	})

	t.Run("no frontmatter falls back to file name", func(t *testing.T) {
		t.Parallel()
		f, err := Parse("layouts/base.html", []byte("<main>{{content}}</main>"))
		require.NoError(t, err)
		require.Equal(t, "base", f.Name)
		require.Equal(t, store.FormatHTML, f.Template.Format)
		require.Equal(t, store.DefaultSubject, f.Template.Subject)
	})

	t.Run("unterminated frontmatter", func(t *testing.T) {
		t.Parallel()
		_, err := Parse("bad.html", []byte("---\nname: bad\n"))
		require.ErrorIs(t, err, ErrInvalidFrontmatter)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := Parse("bad.html", []byte("---\n: a: b:\n---\nbody"))
		require.ErrorIs(t, err, ErrInvalidFrontmatter)
	})
}

func TestImportDir(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"marketing.html": {Data: []byte("---\nname: marketing\nsubject: \"{{subject}}\"\nextends: footer\n---\n<p>{{body}}</p>")},
		"footer.html":    {Data: []byte("---\nname: footer\n---\n{{content}} -- Sent by Acme")},
		"notes.txt":      {Data: []byte("ignored")},
	}

	st := newFakeStore()
	imp := NewImporter(st, nil)
	n, err := imp.ImportDir(context.Background(), fsys)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Parent imported first so the child's extends resolves.
	require.Equal(t, []string{"footer", "marketing"}, st.order)
	child := st.templates["marketing"]
	require.NotNil(t, child.ExtendsID)
	require.Equal(t, st.templates["footer"].ID, *child.ExtendsID)
}

func TestImportDirUnresolvedExtends(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"orphan.html": {Data: []byte("---\nname: orphan\nextends: missing\n---\nbody")},
	}

	imp := NewImporter(newFakeStore(), nil)
	_, err := imp.ImportDir(context.Background(), fsys)
	require.ErrorIs(t, err, ErrUnresolvedExtends)
}

func TestImportDirResolvesStoredParent(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	require.NoError(t, st.UpsertTemplate(context.Background(), &store.Template{
		Name: "base", Subject: "{{subject}}", BodyHTML: "{{content}}", Format: store.FormatHTML,
	}))
	st.order = nil

	fsys := fstest.MapFS{
		"child.html": {Data: []byte("---\nname: child\nextends: base\n---\nbody")},
	}

	imp := NewImporter(st, nil)
	n, err := imp.ImportDir(context.Background(), fsys)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, st.templates["base"].ID, *st.templates["child"].ExtendsID)
}

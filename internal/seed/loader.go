// Package seed imports template files into the templates table. Each file is
// a template body with optional YAML frontmatter carrying the template
// metadata; files extending a base are imported after their parent.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/impresshq/impress/internal/store"
)

// ErrInvalidFrontmatter is returned for files with a malformed frontmatter
// block.
var ErrInvalidFrontmatter = errors.New("seed: invalid template frontmatter")

// ErrUnresolvedExtends is returned when a file names a parent template that
// is neither in the import set nor already stored.
var ErrUnresolvedExtends = errors.New("seed: extends references unknown template")

// frontmatter is the metadata block at the top of a template file.
type frontmatter struct {
	Name                  string `yaml:"name"`
	Subject               string `yaml:"subject"`
	Extends               string `yaml:"extends"`
	Format                string `yaml:"format"`
	Plaintext             string `yaml:"plaintext"`
	AutogeneratePlaintext *bool  `yaml:"autogenerate_plaintext"`
}

// File is one parsed template file before import.
type File struct {
	Name     string
	Extends  string
	Template *store.Template
}

// Parse splits a template file into frontmatter metadata and body. Files
// without a frontmatter block import under their file name with defaults.
func Parse(name string, content []byte) (*File, error) {
	delimiter := []byte("---")

	meta := frontmatter{}
	body := content

	if bytes.HasPrefix(content, delimiter) {
		rest := bytes.TrimPrefix(content, delimiter)
		rest = bytes.TrimLeft(rest, "\r\n")
		endIdx := bytes.Index(rest, delimiter)
		if endIdx == -1 {
			return nil, fmt.Errorf("%w: closing delimiter not found in %s", ErrInvalidFrontmatter, name)
		}
		if err := yaml.Unmarshal(rest[:endIdx], &meta); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFrontmatter, name, err)
		}
		body = bytes.TrimLeft(rest[endIdx+len(delimiter):], "\r\n")
	}

	if meta.Name == "" {
		meta.Name = templateName(name)
	}

	format := store.BodyFormat(meta.Format)
	if meta.Format == "" {
		format = formatForFile(name)
	}

	autogen := format == store.FormatMarkdown && meta.Plaintext == ""
	if meta.AutogeneratePlaintext != nil {
		autogen = *meta.AutogeneratePlaintext
	}

	tpl := &store.Template{
		Name:                  meta.Name,
		Subject:               meta.Subject,
		BodyHTML:              string(body),
		BodyPlaintext:         meta.Plaintext,
		Format:                format,
		AutogeneratePlaintext: autogen,
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &File{Name: meta.Name, Extends: meta.Extends, Template: tpl}, nil
}

// templateName derives a template name from a file path: base name without
// extension.
func templateName(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

func formatForFile(p string) store.BodyFormat {
	if strings.EqualFold(path.Ext(p), ".md") {
		return store.FormatMarkdown
	}
	return store.FormatHTML
}

// Store is the persistence surface the importer needs.
type Store interface {
	UpsertTemplate(ctx context.Context, t *store.Template) error
	TemplateByName(ctx context.Context, name string) (*store.Template, error)
}

// Importer loads parsed template files into storage.
type Importer struct {
	store Store
	log   *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(st Store, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{store: st, log: log}
}

// ImportDir parses every .html and .md file in fsys and upserts the templates
// by name. Parents are imported before the files that extend them.
func (i *Importer) ImportDir(ctx context.Context, fsys fs.FS) (int, error) {
	var files []*File
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTemplateFile(p) {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		f, err := Parse(p, content)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return 0, err
	}

	ordered, err := orderByExtends(files)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, f := range ordered {
		if f.Extends != "" {
			parent, err := i.store.TemplateByName(ctx, f.Extends)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return imported, fmt.Errorf("%w: %s extends %s", ErrUnresolvedExtends, f.Name, f.Extends)
				}
				return imported, err
			}
			f.Template.ExtendsID = &parent.ID
		}
		if err := i.store.UpsertTemplate(ctx, f.Template); err != nil {
			return imported, fmt.Errorf("import %s: %w", f.Name, err)
		}
		i.log.InfoContext(ctx, "template imported", slog.String("name", f.Name))
		imported++
	}
	return imported, nil
}

func isTemplateFile(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".md":
		return true
	}
	return false
}

// orderByExtends sorts files so parents precede children. Extends targets
// outside the set are assumed to exist in storage already and resolve at
// import time.
func orderByExtends(files []*File) ([]*File, error) {
	byName := make(map[string]*File, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	var (
		ordered []*File
		state   = map[string]int{} // 0 unvisited, 1 visiting, 2 done
		visit   func(f *File) error
	)
	visit = func(f *File) error {
		switch state[f.Name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: cycle through %s", ErrUnresolvedExtends, f.Name)
		}
		state[f.Name] = 1
		if parent, ok := byName[f.Extends]; ok && f.Extends != "" {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[f.Name] = 2
		ordered = append(ordered, f)
		return nil
	}
	for _, f := range files {
		if err := visit(f); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

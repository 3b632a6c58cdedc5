// Package render turns stored templates and request variables into final
// email subject and body content. Templates use bare {{name}} placeholders,
// support markdown bodies, and can extend a parent layout that marks its
// insertion point with {{content}}.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/impresshq/impress/internal/store"
)

// contentVar is the placeholder a parent layout uses for the child body.
const contentVar = "content"

// placeholderRe matches bare {{name}} placeholders for rewriting into
// text/template field syntax.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// TemplateSource resolves templates referenced by an extends chain.
type TemplateSource interface {
	TemplateByID(ctx context.Context, id uuid.UUID) (*store.Template, error)
}

// Rendered is the final content handed to a mail backend.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders stored templates. Safe for concurrent use.
type Renderer struct {
	source   TemplateSource
	strict   bool
	markdown goldmark.Markdown
}

// Option configures a Renderer.
type Option func(*Renderer)

// Strict makes rendering fail with ErrMissingVariable when the variables map
// does not cover every placeholder. The default substitutes an empty string.
func Strict() Option {
	return func(r *Renderer) { r.strict = true }
}

// New creates a Renderer resolving extends chains through source.
func New(source TemplateSource, opts ...Option) *Renderer {
	r := &Renderer{
		source: source,
		markdown: goldmark.New(
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the final subject, HTML body, and plaintext body for a
// template and its variables. Both bodies walk the extends chain up to the
// root layout, with each child body injected into the parent's {{content}}
// slot, so the text/plain alternative carries the same layout content as the
// HTML part.
func (r *Renderer) Render(ctx context.Context, tpl *store.Template, vars map[string]any) (*Rendered, error) {
	subject, err := r.renderString(tpl.Subject, vars)
	if err != nil {
		return nil, err
	}

	html, err := r.renderChain(ctx, tpl, vars, htmlBody, true)
	if err != nil {
		return nil, err
	}

	var text string
	if tpl.AutogeneratePlaintext {
		text = HTMLToPlaintext(html)
	} else {
		text, err = r.renderChain(ctx, tpl, vars, plaintextBody, false)
		if err != nil {
			return nil, err
		}
	}

	return &Rendered{Subject: subject, HTML: html, Text: text}, nil
}

func htmlBody(t *store.Template) string      { return t.BodyHTML }
func plaintextBody(t *store.Template) string { return t.BodyPlaintext }

// renderChain renders one body field through the extends chain. A parent
// with an empty body for the field passes the child's content through
// unchanged. Markdown conversion applies to the HTML field only.
func (r *Renderer) renderChain(ctx context.Context, tpl *store.Template, vars map[string]any, body func(*store.Template) string, toHTML bool) (string, error) {
	visited := map[uuid.UUID]struct{}{}
	if tpl.ID != uuid.Nil {
		visited[tpl.ID] = struct{}{}
	}

	out, err := r.renderString(body(tpl), vars)
	if err != nil {
		return "", err
	}
	if toHTML && tpl.Format == store.FormatMarkdown {
		if out, err = r.convertMarkdown(out); err != nil {
			return "", err
		}
	}

	parentID := tpl.ExtendsID
	for parentID != nil {
		if _, ok := visited[*parentID]; ok {
			return "", fmt.Errorf("%w: template %s", ErrInheritanceCycle, tpl.Name)
		}
		visited[*parentID] = struct{}{}

		parent, err := r.source.TemplateByID(ctx, *parentID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
		}

		if layout := body(parent); layout != "" {
			layoutVars := make(map[string]any, len(vars)+1)
			for k, v := range vars {
				layoutVars[k] = v
			}
			layoutVars[contentVar] = out

			out, err = r.renderString(layout, layoutVars)
			if err != nil {
				return "", err
			}
			if toHTML && parent.Format == store.FormatMarkdown {
				if out, err = r.convertMarkdown(out); err != nil {
					return "", err
				}
			}
		}
		parentID = parent.ExtendsID
	}

	return out, nil
}

func (r *Renderer) convertMarkdown(body string) (string, error) {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return buf.String(), nil
}

// renderString substitutes {{name}} placeholders in a single template string.
// Strict mode rejects the render up front when the variables map does not
// cover every placeholder the template references.
func (r *Renderer) renderString(text string, vars map[string]any) (string, error) {
	normalized := placeholderRe.ReplaceAllString(text, "{{.$1}}")

	t, err := template.New("tpl").Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	data := vars
	if r.strict {
		if missing := missingVars(t, vars); len(missing) > 0 {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
		}
	} else {
		data = fillMissing(t, vars)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return buf.String(), nil
}

// missingVars lists placeholders the template references that vars does not
// supply.
func missingVars(t *template.Template, vars map[string]any) []string {
	var missing []string
	for _, name := range templateVars(t) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// fillMissing returns a copy of vars where every placeholder the template
// references resolves, defaulting absent ones to the empty string.
func fillMissing(t *template.Template, vars map[string]any) map[string]any {
	data := make(map[string]any, len(vars))
	for k, v := range vars {
		data[k] = v
	}
	for _, name := range templateVars(t) {
		if _, ok := data[name]; !ok {
			data[name] = ""
		}
	}
	return data
}

// Variables lists the placeholder names a template string references.
func Variables(text string) ([]string, error) {
	normalized := placeholderRe.ReplaceAllString(text, "{{.$1}}")
	t, err := template.New("tpl").Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return templateVars(t), nil
}

func templateVars(t *template.Template) []string {
	var names []string
	seen := map[string]struct{}{}
	if t.Tree == nil || t.Tree.Root == nil {
		return nil
	}
	walkNodes(t.Tree.Root, func(field *parse.FieldNode) {
		if len(field.Ident) == 0 {
			return
		}
		name := field.Ident[0]
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	})
	return names
}

func walkNodes(node parse.Node, fn func(*parse.FieldNode)) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkNodes(child, fn)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, fn)
	case *parse.IfNode:
		walkPipe(n.Pipe, fn)
		walkNodes(n.List, fn)
		if n.ElseList != nil {
			walkNodes(n.ElseList, fn)
		}
	case *parse.RangeNode:
		walkPipe(n.Pipe, fn)
		walkNodes(n.List, fn)
		if n.ElseList != nil {
			walkNodes(n.ElseList, fn)
		}
	case *parse.WithNode:
		walkPipe(n.Pipe, fn)
		walkNodes(n.List, fn)
		if n.ElseList != nil {
			walkNodes(n.ElseList, fn)
		}
	}
}

func walkPipe(pipe *parse.PipeNode, fn func(*parse.FieldNode)) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			if field, ok := arg.(*parse.FieldNode); ok {
				fn(field)
			}
		}
	}
}

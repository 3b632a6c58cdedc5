package render

import "errors"

var (
	// ErrTemplateNotFound is returned when an extends chain references a
	// template that no longer exists.
	ErrTemplateNotFound = errors.New("render: template not found")

	// ErrMissingVariable is returned in strict mode when the request does not
	// supply a variable the template references.
	ErrMissingVariable = errors.New("render: missing template variable")

	// ErrRenderFailed is returned for malformed template text.
	ErrRenderFailed = errors.New("render: failed to render template")

	// ErrInheritanceCycle is returned when a template extends chain loops.
	ErrInheritanceCycle = errors.New("render: template inheritance cycle")
)

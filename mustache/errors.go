package mustache

import "errors"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrCompilation      = errors.New("could not compile template")
	ErrRender           = errors.New("could not render template")
	ErrIO               = errors.New("could not read template source")
)

package mustache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/draganm/lean-mustache/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Template is a mustache template backed by a Source. It is compiled on the
// first render and after every invalidation.
type Template struct {
	source   Source
	factory  *Factory
	name     string
	mime     string
	compiled atomic.Pointer[Compiled]
}

type Rendered struct {
	Body     string
	MimeType string
}

func NewTemplate(factory *Factory, src Source) *Template {
	location := src.Location()
	return &Template{
		source:  src,
		factory: factory,
		name:    Identify(location),
		mime:    MimeTypeFor(location),
	}
}

func (t *Template) Name() string {
	return t.name
}

// FullName is the location of the template source.
func (t *Template) FullName() string {
	return t.source.Location()
}

func (t *Template) Engine() string {
	return Engine
}

func (t *Template) MimeType() string {
	return t.mime
}

func (t *Template) Source() Source {
	return t.source
}

// Location and Read make a Template usable wherever a Source is expected.
func (t *Template) Location() string {
	return t.source.Location()
}

func (t *Template) Read() ([]byte, error) {
	return t.source.Read()
}

// Compiled returns the current compiled form, nil when the template was not
// compiled yet or was invalidated.
func (t *Template) Compiled() *Compiled {
	return t.compiled.Load()
}

func (t *Template) Properties() registry.Properties {
	return registry.Properties{
		"name":     t.Name(),
		"fullName": t.FullName(),
		"mimetype": t.MimeType(),
		"engine":   t.Engine(),
	}
}

func (t *Template) Render(ctx context.Context, scope RequestScope, vars map[string]any) (res Rendered, err error) {
	_, span := tracer.Start(ctx, fmt.Sprintf("mustache.Render %s", t.name),
		trace.WithAttributes(
			attribute.String("template", t.name),
			attribute.String("mimetype", t.mime),
		),
	)
	defer span.End()

	startTime := time.Now()
	defer func() {
		renderDuration.WithLabelValues(t.name).Observe(time.Since(startTime).Seconds())
		if err != nil {
			renderFailed.WithLabelValues(t.name).Inc()
			span.RecordError(err)
		}
	}()

	compiled, err := t.factory.Compile(t)
	if err != nil {
		return Rendered{}, err
	}

	body, err := compiled.tmpl.Render(scope.merge(vars))
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrIO) || errors.Is(err, ErrCompilation) {
			return Rendered{}, fmt.Errorf("could not render %s: %w", t.name, err)
		}
		return Rendered{}, fmt.Errorf("%w %s: %w", ErrRender, t.name, err)
	}

	return Rendered{Body: body, MimeType: t.mime}, nil
}

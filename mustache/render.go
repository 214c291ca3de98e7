package mustache

import (
	"fmt"
	"sync"

	"github.com/cbroglie/mustache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compilations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_template_compilation_count",
		Help: "Number of template compilations",
	}, []string{"template"})

	compilationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_template_compilation_failed_count",
		Help: "Number of failed template compilations",
	}, []string{"template"})

	renderDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "mustache_template_render_duration",
		Help: "Template render duration",
	}, []string{"template"})

	renderFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_template_render_failed_count",
		Help: "Number of failed template renderings",
	}, []string{"template"})
)

// Compiled is the executable form of a template.
type Compiled struct {
	name   string
	source string
	tmpl   *mustache.Template
}

func (c *Compiled) Name() string {
	return c.name
}

// FragmentKey identifies a partial resolved while compiling or rendering Owner.
type FragmentKey struct {
	Owner    string
	Fragment string
}

// TemplateLookup finds registered templates by logical name.
type TemplateLookup interface {
	Lookup(name string) (*Template, bool)
}

// Factory compiles templates and caches their compiled forms. Partials are
// resolved by asking the lookup for a registered template with the
// referenced name.
type Factory struct {
	templates  TemplateLookup
	cached     map[string]*Compiled
	fragments  map[FragmentKey]*Compiled
	generation uint64
	mu         *sync.RWMutex
}

func NewFactory(templates TemplateLookup) *Factory {
	return &Factory{
		templates: templates,
		cached:    map[string]*Compiled{},
		fragments: map[FragmentKey]*Compiled{},
		mu:        &sync.RWMutex{},
	}
}

// Compile returns the compiled form of t, compiling it when needed.
// Concurrent first compilations of the same template may both run; the last
// one wins.
func (f *Factory) Compile(t *Template) (*Compiled, error) {
	return f.compile(t, map[string]bool{})
}

func (f *Factory) compile(t *Template, visiting map[string]bool) (*Compiled, error) {
	compiled := t.compiled.Load()
	if compiled != nil {
		return compiled, nil
	}

	data, err := t.source.Read()
	if err != nil {
		compilationsFailed.WithLabelValues(t.name).Inc()
		return nil, fmt.Errorf("%w %s: %w", ErrIO, t.FullName(), err)
	}

	visiting[t.name] = true

	sp := &scopedPartialProvider{factory: f, owner: t.name}

	tmpl, err := mustache.ParseStringPartials(string(data), sp)
	if err != nil {
		compilationsFailed.WithLabelValues(t.name).Inc()
		return nil, fmt.Errorf("%w %s: %w", ErrCompilation, t.name, err)
	}

	// partials are resolved eagerly so a missing one fails the compilation
	for _, name := range partialNames(tmpl.Tags()) {
		if visiting[normalizeName(name)] {
			continue
		}
		_, err = f.fragment(t.name, name, visiting)
		if err != nil {
			compilationsFailed.WithLabelValues(t.name).Inc()
			return nil, err
		}
	}

	compiled = &Compiled{
		name:   t.name,
		source: string(data),
		tmpl:   tmpl,
	}

	t.compiled.Store(compiled)

	f.mu.Lock()
	if t.compiled.Load() == compiled {
		f.cached[t.name] = compiled
	}
	f.mu.Unlock()

	compilations.WithLabelValues(t.name).Inc()

	return compiled, nil
}

func (f *Factory) fragment(owner, name string, visiting map[string]bool) (*Compiled, error) {
	name = normalizeName(name)
	key := FragmentKey{Owner: owner, Fragment: name}

	f.mu.RLock()
	compiled, found := f.fragments[key]
	generation := f.generation
	f.mu.RUnlock()

	if found {
		return compiled, nil
	}

	t, found := f.templates.Lookup(name)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	compiled, err := f.compile(t, visiting)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	// t was invalidated or shadowed by a newer template while compiling
	if t.compiled.Load() == compiled && f.generation == generation {
		f.fragments[key] = compiled
	}
	f.mu.Unlock()

	return compiled, nil
}

// forgetFragments drops every fragment resolved for the logical name, so the
// next resolution picks the template that currently owns it.
func (f *Factory) forgetFragments(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.generation++

	for k := range f.fragments {
		if k.Fragment == name {
			delete(f.fragments, k)
		}
	}
}

// Invalidate drops the compiled form of t, its primary cache entry and every
// fragment entry holding that compiled form.
func (f *Factory) Invalidate(t *Template) {
	compiled := t.compiled.Swap(nil)

	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.cached, t.name)

	if compiled == nil {
		return
	}

	for k, v := range f.fragments {
		if v == compiled {
			delete(f.fragments, k)
		}
	}
}

// Cached returns the primary cache entry for the logical name.
func (f *Factory) Cached(name string) (*Compiled, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, found := f.cached[name]
	return c, found
}

// Fragment returns the cached partial resolved for owner.
func (f *Factory) Fragment(owner, name string) (*Compiled, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, found := f.fragments[FragmentKey{Owner: owner, Fragment: normalizeName(name)}]
	return c, found
}

// Stats returns the number of primary and fragment cache entries.
func (f *Factory) Stats() (cached, fragments int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cached), len(f.fragments)
}

type scopedPartialProvider struct {
	factory *Factory
	owner   string
}

func (sp *scopedPartialProvider) Get(name string) (string, error) {
	compiled, err := sp.factory.fragment(sp.owner, name, map[string]bool{})
	if err != nil {
		return "", fmt.Errorf("could not find mustache partial %s: %w", name, err)
	}
	return compiled.source, nil
}

var _ mustache.PartialProvider = (*scopedPartialProvider)(nil)

func partialNames(tags []mustache.Tag) []string {
	names := []string{}
	for _, tag := range tags {
		switch tag.Type() {
		case mustache.Partial:
			names = append(names, tag.Name())
		case mustache.Section, mustache.InvertedSection:
			names = append(names, partialNames(tag.Tags())...)
		}
	}
	return names
}

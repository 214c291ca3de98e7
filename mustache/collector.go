package mustache

import (
	"sync"

	"github.com/draganm/lean-mustache/registry"
	"github.com/go-logr/logr"
)

type entry struct {
	template     *Template
	registration *registry.Registration
	seq          uint64
}

// Collector keeps the set of known templates, publishes each of them in the
// registry and answers partial lookups for the factory.
type Collector struct {
	log      logr.Logger
	registry *registry.Registry
	factory  *Factory
	entries  map[string]*entry
	seq      uint64
	mu       *sync.RWMutex
}

func NewCollector(log logr.Logger, reg *registry.Registry) *Collector {
	c := &Collector{
		log:      log,
		registry: reg,
		entries:  map[string]*entry{},
		mu:       &sync.RWMutex{},
	}
	c.factory = NewFactory(c)
	return c
}

func (c *Collector) Name() string {
	return Engine
}

func (c *Collector) Extension() string {
	return Extension
}

func (c *Collector) Factory() *Factory {
	return c.factory
}

// Templates returns a snapshot of the registered templates in no particular order.
func (c *Collector) Templates() []*Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]*Template, 0, len(c.entries))
	for _, e := range c.entries {
		res = append(res, e.template)
	}
	return res
}

// Lookup returns the template with the given logical name. When several
// sources share the name, the most recently added one wins.
func (c *Collector) Lookup(name string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var found *entry
	for _, e := range c.entries {
		if e.template.Name() != name {
			continue
		}
		if found == nil || e.seq > found.seq {
			found = e
		}
	}

	if found == nil {
		return nil, false
	}

	return found.template, true
}

// Get returns the template registered for the source location.
func (c *Collector) Get(location string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[location]
	if !found {
		return nil, false
	}
	return e.template, true
}

// AddTemplate registers a template for src. Adding a location that is
// already known returns the existing template.
func (c *Collector) AddTemplate(src Source) *Template {
	if t, isTemplate := src.(*Template); isTemplate {
		src = t.source
	}

	location := src.Location()

	c.mu.Lock()
	e, found := c.entries[location]
	if found {
		c.mu.Unlock()
		return e.template
	}

	t := NewTemplate(c.factory, src)
	shadows := false
	for _, other := range c.entries {
		if other.template.Name() == t.Name() {
			shadows = true
			break
		}
	}
	c.seq++
	e = &entry{template: t, seq: c.seq}
	c.entries[location] = e
	c.mu.Unlock()

	if shadows {
		c.factory.forgetFragments(t.Name())
	}

	reg, err := c.registry.Register(t, t.Properties())
	if err != nil {
		c.log.Error(err, "could not register template service", "template", t.Name(), "location", location)
	} else {
		c.mu.Lock()
		current, stillThere := c.entries[location]
		if stillThere && current == e {
			e.registration = reg
			reg = nil
		}
		c.mu.Unlock()

		// deleted while being registered
		if reg != nil {
			_ = reg.Unregister()
		}
	}

	c.log.Info("mustache template added", "template", t.Name(), "location", location)

	return t
}

// UpdateTemplate invalidates the template of src so it gets recompiled on
// the next render. Unknown sources are added instead.
func (c *Collector) UpdateTemplate(src Source) *Template {
	t, found := c.Get(src.Location())
	if !found {
		if tmpl, isTemplate := src.(*Template); isTemplate {
			// no longer registered, only its compiled form is dropped
			c.factory.Invalidate(tmpl)
			return tmpl
		}
		return c.AddTemplate(src)
	}

	c.log.Info("mustache template updated", "template", t.Name(), "location", t.FullName())
	c.factory.Invalidate(t)

	return t
}

// DeleteTemplate unregisters the template of src and purges it from the
// caches. Deleting an unknown source is a no-op.
func (c *Collector) DeleteTemplate(src Source) {
	location := src.Location()

	c.mu.Lock()
	e, found := c.entries[location]
	if found {
		delete(c.entries, location)
	}
	c.mu.Unlock()

	if !found {
		if tmpl, isTemplate := src.(*Template); isTemplate {
			c.factory.Invalidate(tmpl)
		}
		return
	}

	if e.registration != nil {
		err := e.registration.Unregister()
		if err != nil {
			// can already be gone during shutdown
			c.log.V(1).Info("could not unregister template service", "template", e.template.Name(), "error", err.Error())
		}
	}

	c.factory.Invalidate(e.template)

	c.log.Info("mustache template deleted", "template", e.template.Name(), "location", location)
}

// Shutdown unregisters every template service.
func (c *Collector) Shutdown() {
	c.mu.Lock()
	entries := c.entries
	c.entries = map[string]*entry{}
	c.mu.Unlock()

	for _, e := range entries {
		c.factory.Invalidate(e.template)
		if e.registration == nil {
			continue
		}
		err := e.registration.Unregister()
		if err != nil {
			c.log.V(1).Info("could not unregister template service", "template", e.template.Name(), "error", err.Error())
		}
	}
}

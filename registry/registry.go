package registry

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotRegistered  = errors.New("service is not registered")
	ErrRegistryClosed = errors.New("registry is closed")
)

type Properties map[string]string

// Matches returns true when every key of filter is present in p with the same value.
func (p Properties) Matches(filter Properties) bool {
	for k, v := range filter {
		pv, found := p[k]
		if !found || pv != v {
			return false
		}
	}
	return true
}

type EventType int

const (
	EventRegistered EventType = iota
	EventUnregistering
)

func (e EventType) String() string {
	switch e {
	case EventRegistered:
		return "registered"
	case EventUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

type Event struct {
	Type         EventType
	Registration *Registration
}

type Listener func(Event)

// Registry keeps track of published services and their properties.
type Registry struct {
	mu            *sync.RWMutex
	nextID        uint64
	closed        bool
	registrations map[uint64]*Registration
	listeners     map[uint64]Listener
	nextListener  uint64
}

func New() *Registry {
	return &Registry{
		mu:            &sync.RWMutex{},
		registrations: map[uint64]*Registration{},
		listeners:     map[uint64]Listener{},
	}
}

type Registration struct {
	id       uint64
	service  any
	props    Properties
	registry *Registry
}

func (r *Registration) ID() uint64 {
	return r.id
}

func (r *Registration) Service() any {
	return r.service
}

func (r *Registration) Properties() Properties {
	res := Properties{}
	for k, v := range r.props {
		res[k] = v
	}
	return res
}

// Unregister removes the service from the registry. Calling it more than once
// returns ErrNotRegistered.
func (r *Registration) Unregister() error {
	return r.registry.unregister(r)
}

func (r *Registry) Register(service any, props Properties) (*Registration, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	r.nextID++
	reg := &Registration{
		id:       r.nextID,
		service:  service,
		props:    Properties{},
		registry: r,
	}
	for k, v := range props {
		reg.props[k] = v
	}
	r.registrations[reg.id] = reg
	listeners := r.listenersSnapshot()
	r.mu.Unlock()

	for _, l := range listeners {
		l(Event{Type: EventRegistered, Registration: reg})
	}

	return reg, nil
}

func (r *Registry) unregister(reg *Registration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}

	_, found := r.registrations[reg.id]
	if !found {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	delete(r.registrations, reg.id)
	listeners := r.listenersSnapshot()
	r.mu.Unlock()

	for _, l := range listeners {
		l(Event{Type: EventUnregistering, Registration: reg})
	}

	return nil
}

// Find returns the registrations matching filter, oldest first.
func (r *Registry) Find(filter Properties) []*Registration {
	r.mu.RLock()
	res := []*Registration{}
	for _, reg := range r.registrations {
		if reg.props.Matches(filter) {
			res = append(res, reg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		return res[i].id < res[j].id
	})

	return res
}

// FindLatest returns the most recently registered service matching filter.
func (r *Registry) FindLatest(filter Properties) (*Registration, bool) {
	regs := r.Find(filter)
	if len(regs) == 0 {
		return nil, false
	}
	return regs[len(regs)-1], true
}

// AddListener registers l for service events and returns a function removing it.
func (r *Registry) AddListener(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextListener++
	id := r.nextListener
	r.listeners[id] = l
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Close drops every registration. Further Register and Unregister calls
// return ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.registrations = map[uint64]*Registration{}
	r.listeners = map[uint64]Listener{}
}

func (r *Registry) listenersSnapshot() []Listener {
	ids := make([]uint64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := make([]Listener, 0, len(ids))
	for _, id := range ids {
		res = append(res, r.listeners[id])
	}
	return res
}

package presenter

import (
	"sync"

	"github.com/jrsteele09/go-ride-session/oauthmodel"
)

const messageBuffer = 4

// surface is one presented authorization URL, keyed by its state parameter.
type surface struct {
	state    string
	messages chan oauthmodel.ExchangePayload
	closed   chan struct{}

	closedOnce sync.Once
	closeOnce  sync.Once
	release    func(*surface)
}

func (s *surface) Messages() <-chan oauthmodel.ExchangePayload {
	return s.messages
}

func (s *surface) Closed() <-chan struct{} {
	return s.closed
}

// Close forgets the surface. Payloads arriving afterwards are dropped.
func (s *surface) Close() error {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release(s)
		}
	})
	return nil
}

// deliver hands p to the flow without blocking. A full buffer drops p.
func (s *surface) deliver(p oauthmodel.ExchangePayload) bool {
	select {
	case s.messages <- p:
		return true
	default:
		return false
	}
}

// markClosed records that the user dismissed the surface.
func (s *surface) markClosed() {
	s.closedOnce.Do(func() { close(s.closed) })
}

// registry tracks the surfaces currently awaiting an answer.
type registry struct {
	mu       sync.Mutex
	surfaces map[string]*surface
	order    []*surface
}

func newRegistry() *registry {
	return &registry{surfaces: make(map[string]*surface)}
}

func (r *registry) open(state string) *surface {
	s := &surface{
		state:    state,
		messages: make(chan oauthmodel.ExchangePayload, messageBuffer),
		closed:   make(chan struct{}),
		release:  r.remove,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if state != "" {
		r.surfaces[state] = s
	}
	r.order = append(r.order, s)
	return s
}

// lookup finds the surface for state. An empty state means the most
// recently opened surface.
func (r *registry) lookup(state string) *surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state != "" {
		return r.surfaces[state]
	}
	if len(r.order) == 0 {
		return nil
	}
	return r.order[len(r.order)-1]
}

func (r *registry) remove(s *surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surfaces[s.state] == s {
		delete(r.surfaces, s.state)
	}
	for i, o := range r.order {
		if o == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// all returns the open surfaces, oldest first.
func (r *registry) all() []*surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*surface(nil), r.order...)
}

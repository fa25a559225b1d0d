package app

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

// Registry is the session registry: the single source of truth for which
// identity a connection speaks for.
type Registry struct {
	mu         sync.RWMutex
	identities map[core.ConnID]domain.Identity
	conns      map[domain.Identity][]core.ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[core.ConnID]domain.Identity),
		conns:      make(map[domain.Identity][]core.ConnID),
	}
}

// Register binds id to identity. Reusing an id without Unregister is an
// invariant violation and yields ErrDuplicateIdentity.
func (r *Registry) Register(id core.ConnID, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.identities[id]; ok {
		return fmt.Errorf("connection %s already registered as %q: %w", id, prev, domain.ErrDuplicateIdentity)
	}
	r.identities[id] = identity
	r.conns[identity] = append(r.conns[identity], id)
	log.Info().Str(logging.FieldModule, "app.registry").Str(logging.FieldConnID, string(id)).Str(logging.FieldIdentity, string(identity)).Msg("registered")
	return nil
}

func (r *Registry) IdentityOf(id core.ConnID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return identity, nil
}

// Unregister removes id and returns the identity it was bound to. A second
// call returns ErrNotFound, which callers treat as a no-op.
func (r *Registry) Unregister(id core.ConnID) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	delete(r.identities, id)
	rest := slices.DeleteFunc(r.conns[identity], func(c core.ConnID) bool { return c == id })
	if len(rest) == 0 {
		delete(r.conns, identity)
	} else {
		r.conns[identity] = rest
	}
	log.Info().Str(logging.FieldModule, "app.registry").Str(logging.FieldConnID, string(id)).Str(logging.FieldIdentity, string(identity)).Msg("unregistered")
	return identity, nil
}

// ConnectionsOf returns the connections bound to identity in registration order.
func (r *Registry) ConnectionsOf(identity domain.Identity) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.conns[identity])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

package registry

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"github.com/chamomilehq/chamomile/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Manager hands out one shared Registry per user and tears it down once the
// last holder releases it.
type Manager struct {
	svc apikeydomain.Service
	bus events.Bus
	log *zap.Logger

	mu      sync.Mutex
	entries map[snowflake.ID]*entry
}

type entry struct {
	registry *Registry
	refs     int
}

type Params struct {
	fx.In

	Service apikeydomain.Service
	Bus     events.Bus
	Log     *zap.Logger
}

func NewManager(p Params) *Manager {
	return &Manager{
		svc:     p.Service,
		bus:     p.Bus,
		log:     p.Log,
		entries: make(map[snowflake.ID]*entry),
	}
}

// Acquire returns the user's registry, creating and priming it on first use.
// Every Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, userID snowflake.ID) (*Registry, error) {
	m.mu.Lock()
	if e, ok := m.entries[userID]; ok {
		e.refs++
		m.mu.Unlock()
		return e.registry, nil
	}
	m.mu.Unlock()

	reg, err := newRegistry(userID, m.svc, m.bus, m.log)
	if err != nil {
		return nil, err
	}
	if err := reg.Refresh(ctx); err != nil {
		reg.close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[userID]; ok {
		// Another caller won the race; keep theirs.
		e.refs++
		go reg.close()
		return e.registry, nil
	}
	m.entries[userID] = &entry{registry: reg, refs: 1}
	return reg, nil
}

func (m *Manager) Release(userID snowflake.ID) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, userID)
	m.mu.Unlock()

	e.registry.close()
}

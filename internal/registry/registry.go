// Package registry keeps a per-user, in-memory projection of that user's API
// keys. Mutations go through the registry so the projection, the database and
// every other subscriber converge through the change feed.
package registry

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"github.com/chamomilehq/chamomile/internal/events"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle       State = "idle"
	StateMutating   State = "mutating"
	StateRefreshing State = "refreshing"
	StateError      State = "error"
)

// Registry is the projection for a single user. All reads are served from the
// snapshot; a failed refresh keeps the previous snapshot and flags the error.
type Registry struct {
	userID snowflake.ID
	svc    apikeydomain.Service
	bus    events.Bus
	log    *zap.Logger

	mu       sync.RWMutex
	snapshot []apikeydomain.Response
	state    State
	lastErr  error

	sub  *events.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

func newRegistry(userID snowflake.ID, svc apikeydomain.Service, bus events.Bus, log *zap.Logger) (*Registry, error) {
	r := &Registry{
		userID: userID,
		svc:    svc,
		bus:    bus,
		log:    log.Named("registry").With(zap.String("user_id", userID.String())),
		state:  StateIdle,
		done:   make(chan struct{}),
	}

	sub, backlog, err := bus.Subscribe(userID.String())
	if err != nil {
		return nil, err
	}
	r.sub = sub

	r.wg.Add(1)
	go r.watch(backlog)
	return r, nil
}

// watch refreshes the snapshot whenever the change feed reports a write,
// regardless of who made it. Each notification is a full refresh, so a burst
// of events simply collapses into the latest database read.
func (r *Registry) watch(backlog []events.ChangeEvent) {
	defer r.wg.Done()

	if len(backlog) > 0 {
		r.refresh(context.Background())
	}
	for {
		select {
		case <-r.done:
			return
		case _, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.refresh(context.Background())
		}
	}
}

// Snapshot returns the current projection along with the registry state and
// the error from the last failed refresh, if any.
func (r *Registry) Snapshot() ([]apikeydomain.Response, State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]apikeydomain.Response, len(r.snapshot))
	copy(out, r.snapshot)
	return out, r.state, r.lastErr
}

func (r *Registry) Refresh(ctx context.Context) error {
	return r.refresh(ctx)
}

func (r *Registry) refresh(ctx context.Context) error {
	r.setState(StateRefreshing)

	items, err := r.svc.List(ctx, r.userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateError
		r.lastErr = err
		r.log.Warn("refresh failed", zap.Error(err))
		return err
	}
	r.snapshot = items
	r.state = StateIdle
	r.lastErr = nil
	return nil
}

func (r *Registry) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.Response, error) {
	r.setState(StateMutating)
	resp, err := r.svc.Create(ctx, r.userID, req)
	if err != nil {
		r.recordErr(err)
		return nil, err
	}
	if err := r.refresh(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}

func (r *Registry) Rename(ctx context.Context, keyID snowflake.ID, req apikeydomain.RenameRequest) (*apikeydomain.Response, error) {
	r.setState(StateMutating)
	resp, err := r.svc.Rename(ctx, r.userID, keyID, req)
	if err != nil {
		r.recordErr(err)
		return nil, err
	}
	if err := r.refresh(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}

func (r *Registry) Delete(ctx context.Context, keyID snowflake.ID) error {
	r.setState(StateMutating)
	if err := r.svc.Delete(ctx, r.userID, keyID); err != nil {
		r.recordErr(err)
		return err
	}
	return r.refresh(ctx)
}

func (r *Registry) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// recordErr restores the idle state after a rejected mutation. Validation
// and not-found failures do not invalidate the snapshot.
func (r *Registry) recordErr(err error) {
	r.mu.Lock()
	r.state = StateIdle
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Registry) close() {
	close(r.done)
	r.sub.Close()
	r.wg.Wait()
}

package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"github.com/chamomilehq/chamomile/internal/events"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeKeyService serves canned lists and records mutations.
type fakeKeyService struct {
	mu      sync.Mutex
	items   map[snowflake.ID][]apikeydomain.Response
	listErr error
	nextID  int64
}

func newFakeKeyService() *fakeKeyService {
	return &fakeKeyService{items: make(map[snowflake.ID][]apikeydomain.Response)}
}

func (f *fakeKeyService) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeKeyService) List(_ context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]apikeydomain.Response, len(f.items[userID]))
	copy(out, f.items[userID])
	return out, nil
}

func (f *fakeKeyService) Create(_ context.Context, userID snowflake.ID, req apikeydomain.CreateRequest) (*apikeydomain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	resp := apikeydomain.Response{
		ID:        snowflake.ID(f.nextID).String(),
		Name:      req.Name,
		Key:       "pk_test",
		CreatedAt: time.Now().UTC(),
	}
	f.items[userID] = append([]apikeydomain.Response{resp}, f.items[userID]...)
	return &resp, nil
}

func (f *fakeKeyService) Rename(_ context.Context, userID snowflake.ID, keyID snowflake.ID, req apikeydomain.RenameRequest) (*apikeydomain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items[userID] {
		if f.items[userID][i].ID == keyID.String() {
			f.items[userID][i].Name = req.Name
			resp := f.items[userID][i]
			return &resp, nil
		}
	}
	return nil, apikeydomain.ErrNotFound
}

func (f *fakeKeyService) Delete(_ context.Context, userID snowflake.ID, keyID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := f.items[userID]
	for i := range keys {
		if keys[i].ID == keyID.String() {
			f.items[userID] = append(keys[:i], keys[i+1:]...)
			return nil
		}
	}
	return apikeydomain.ErrNotFound
}

func (f *fakeKeyService) FindByKey(context.Context, string) (*apikeydomain.APIKey, error) {
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func newTestManager(t *testing.T) (*Manager, *fakeKeyService, *events.Hub) {
	t.Helper()
	svc := newFakeKeyService()
	hub := events.NewHub()
	mgr := NewManager(Params{Service: svc, Bus: hub, Log: zap.NewNop()})
	return mgr, svc, hub
}

func TestAcquirePrimesSnapshot(t *testing.T) {
	mgr, svc, _ := newTestManager(t)
	userID := snowflake.ID(1)

	_, err := svc.Create(context.Background(), userID, apikeydomain.CreateRequest{Name: "existing"})
	assert.NoError(t, err)

	reg, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	defer mgr.Release(userID)

	keys, state, lastErr := reg.Snapshot()
	assert.NoError(t, lastErr)
	assert.Equal(t, StateIdle, state)
	if assert.Len(t, keys, 1) {
		assert.Equal(t, "existing", keys[0].Name)
	}
}

func TestChangeEventTriggersRefresh(t *testing.T) {
	mgr, svc, hub := newTestManager(t)
	userID := snowflake.ID(1)

	reg, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	defer mgr.Release(userID)

	// A write lands out of band, then its event arrives.
	_, err = svc.Create(context.Background(), userID, apikeydomain.CreateRequest{Name: "external"})
	assert.NoError(t, err)
	hub.Publish(events.ChangeEvent{
		Entity: events.EntityAPIKeys,
		Op:     events.OpInsert,
		UserID: userID.String(),
		At:     time.Now().UTC(),
	})

	waitFor(t, func() bool {
		keys, _, _ := reg.Snapshot()
		return len(keys) == 1 && keys[0].Name == "external"
	})
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	mgr, svc, _ := newTestManager(t)
	userID := snowflake.ID(1)

	_, err := svc.Create(context.Background(), userID, apikeydomain.CreateRequest{Name: "stable"})
	assert.NoError(t, err)

	reg, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	defer mgr.Release(userID)

	svc.setListErr(errors.New("store down"))
	assert.Error(t, reg.Refresh(context.Background()))

	keys, state, lastErr := reg.Snapshot()
	assert.Equal(t, StateError, state)
	assert.Error(t, lastErr)
	if assert.Len(t, keys, 1) {
		assert.Equal(t, "stable", keys[0].Name)
	}

	// Recovery clears the error state.
	svc.setListErr(nil)
	assert.NoError(t, reg.Refresh(context.Background()))
	_, state, lastErr = reg.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.NoError(t, lastErr)
}

func TestMutationsRefreshProjection(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	userID := snowflake.ID(1)

	reg, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	defer mgr.Release(userID)

	created, err := reg.Create(context.Background(), apikeydomain.CreateRequest{Name: "new"})
	assert.NoError(t, err)

	keys, state, _ := reg.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Len(t, keys, 1)

	keyID, err := snowflake.ParseString(created.ID)
	assert.NoError(t, err)

	_, err = reg.Rename(context.Background(), keyID, apikeydomain.RenameRequest{Name: "renamed"})
	assert.NoError(t, err)

	keys, _, _ = reg.Snapshot()
	if assert.Len(t, keys, 1) {
		assert.Equal(t, "renamed", keys[0].Name)
	}

	assert.NoError(t, reg.Delete(context.Background(), keyID))
	keys, _, _ = reg.Snapshot()
	assert.Empty(t, keys)
}

func TestRejectedMutationLeavesSnapshotIntact(t *testing.T) {
	mgr, svc, _ := newTestManager(t)
	userID := snowflake.ID(1)

	_, err := svc.Create(context.Background(), userID, apikeydomain.CreateRequest{Name: "only"})
	assert.NoError(t, err)

	reg, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	defer mgr.Release(userID)

	err = reg.Delete(context.Background(), snowflake.ID(999))
	assert.True(t, errors.Is(err, apikeydomain.ErrNotFound))

	keys, state, _ := reg.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Len(t, keys, 1)
}

func TestManagerSharesAndReleasesRegistries(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	userID := snowflake.ID(1)

	first, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	second, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	assert.Same(t, first, second)

	mgr.Release(userID)
	mgr.mu.Lock()
	_, stillThere := mgr.entries[userID]
	mgr.mu.Unlock()
	assert.True(t, stillThere)

	mgr.Release(userID)
	mgr.mu.Lock()
	_, stillThere = mgr.entries[userID]
	mgr.mu.Unlock()
	assert.False(t, stillThere)

	// Re-acquire after full release builds a fresh registry.
	third, err := mgr.Acquire(context.Background(), userID)
	assert.NoError(t, err)
	assert.NotNil(t, third)
	mgr.Release(userID)
}

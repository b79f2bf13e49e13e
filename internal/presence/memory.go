package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryTracker is the process-local backing: fine for a single gateway
// instance and for tests, wrong for a fleet (each instance would only see
// its own sockets).
type MemoryTracker struct {
	mu    sync.Mutex
	conns map[int64]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{conns: make(map[int64]map[string]struct{})}
}

var _ Tracker = (*MemoryTracker)(nil)

func (t *MemoryTracker) Connect(ctx context.Context, userID int64) (string, bool, error) {
	handle := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[handle] = struct{}{}
	return handle, len(set) == 1, nil
}

func (t *MemoryTracker) Disconnect(ctx context.Context, userID int64, handle string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return false, nil
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(t.conns, userID)
		return true, nil
	}
	return false, nil
}

func (t *MemoryTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0, nil
}

func (t *MemoryTracker) OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var online []int64
	for _, id := range userIDs {
		if len(t.conns[id]) > 0 {
			online = append(online, id)
		}
	}
	return online, nil
}

// Package presence tracks which users have a socket joined to each project
// room. Counts are per socket, so a user with two tabs stays present until
// both leave.
package presence

import (
	"context"
	"sort"
	"sync"
)

type Tracker interface {
	Add(ctx context.Context, room, userID uint) error
	Remove(ctx context.Context, room, userID uint) error
	List(ctx context.Context, room uint) ([]uint, error)
}

type MemoryTracker struct {
	mu    sync.Mutex
	rooms map[uint]map[uint]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{rooms: make(map[uint]map[uint]int)}
}

func (t *MemoryTracker) Add(_ context.Context, room, userID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[room]
	if !ok {
		users = make(map[uint]int)
		t.rooms[room] = users
	}
	users[userID]++
	return nil
}

func (t *MemoryTracker) Remove(_ context.Context, room, userID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[room]
	if !ok {
		return nil
	}

	if users[userID] <= 1 {
		delete(users, userID)
	} else {
		users[userID]--
	}

	if len(users) == 0 {
		delete(t.rooms, room)
	}
	return nil
}

func (t *MemoryTracker) List(_ context.Context, room uint) ([]uint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]uint, 0, len(t.rooms[room]))
	for id := range t.rooms[room] {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

func sortIDs(ids []uint) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

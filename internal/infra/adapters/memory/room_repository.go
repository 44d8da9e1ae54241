package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mkravets/signalhub/internal/application/metric"
)

// RoomRepository maps room ids to member sets. A room exists iff it has
// at least one member; the entry is deleted the moment it empties.
// A connection belongs to at most one room at a time.
type RoomRepository interface {
	// Join adds the connection to a room, creating it if absent. If the
	// connection is in another room it is removed from there first.
	// Returns the members already present, excluding the joiner.
	Join(roomID string, connID uuid.UUID) (others []uuid.UUID)

	// Leave removes the connection from whatever room it is in.
	// Returns the affected room id ("" if none) and the remaining
	// members. Idempotent when the connection is roomless.
	Leave(connID uuid.UUID) (roomID string, remaining []uuid.UUID)

	RoomOf(connID uuid.UUID) (string, bool)
	Members(roomID string) []uuid.UUID
}

type roomRepository struct {
	rooms      map[string]map[uuid.UUID]struct{}
	memberRoom map[uuid.UUID]string

	mu sync.RWMutex
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms:      make(map[string]map[uuid.UUID]struct{}, 8),
		memberRoom: make(map[uuid.UUID]string, 16),
	}
}

func (r *roomRepository) Join(roomID string, connID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(connID)

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{}, 4)
		r.rooms[roomID] = members

		metric.IncrementOpenRooms()
	}

	others := make([]uuid.UUID, 0, len(members))
	for id := range members {
		others = append(others, id)
	}

	members[connID] = struct{}{}
	r.memberRoom[connID] = roomID

	return others
}

func (r *roomRepository) Leave(connID uuid.UUID) (string, []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID := r.leaveLocked(connID)
	if roomID == "" {
		return "", nil
	}

	remaining := make([]uuid.UUID, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		remaining = append(remaining, id)
	}

	return roomID, remaining
}

// leaveLocked removes the connection from its room and reaps the room
// if it emptied. Returns the affected room id, "" if none.
func (r *roomRepository) leaveLocked(connID uuid.UUID) string {
	roomID, ok := r.memberRoom[connID]
	if !ok {
		return ""
	}

	delete(r.memberRoom, connID)
	delete(r.rooms[roomID], connID)

	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)

		metric.DecrementOpenRooms()
	}

	return roomID
}

func (r *roomRepository) RoomOf(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.memberRoom[connID]
	return roomID, ok
}

func (r *roomRepository) Members(roomID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}

	return out
}

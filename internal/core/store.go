package core

import "sync"

// RoomStore is the in-memory table of live rooms keyed by id.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomStore constructs an empty table.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*Room)}
}

// Get returns the live room for id.
func (s *RoomStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

// Insert adds room unless its id is already taken. Returns true if inserted.
func (s *RoomStore) Insert(room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return false
	}
	s.rooms[room.ID] = room
	return true
}

// Delete removes room if it is still the entry stored under its id.
func (s *RoomStore) Delete(room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rooms[room.ID]; !ok || current != room {
		return false
	}
	delete(s.rooms, room.ID)
	return true
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Rooms returns the live rooms in no particular order.
func (s *RoomStore) Rooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}

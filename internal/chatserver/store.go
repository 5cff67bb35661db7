package chatserver

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Room is a chat room.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	// Origin is the index of the instance the room was created on
	Origin int `json:"origin"`
}

// Message is a message posted to a room.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Origin    int       `json:"origin"`
}

// Membership records a user joining a room.
type Membership struct {
	RoomID string `json:"room_id"`
	User   string `json:"user"`
}

// RoomNotFoundError is returned for operations on unknown rooms.
type RoomNotFoundError struct {
	ID string
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %s not found", e.ID)
}

// Store holds the rooms and messages known to one instance. Applying the
// same record twice has no effect, so replicated writes may be retried.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	messages map[string][]*Message
	seen     map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*Room),
		messages: make(map[string][]*Message),
		seen:     make(map[string]bool),
	}
}

// AddRoom stores room. It reports false if a room with the same id exists.
func (s *Store) AddRoom(room Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return false
	}
	r := room
	r.Members = append([]string{}, room.Members...)
	s.rooms[room.ID] = &r
	return true
}

// Join adds user to the room's members. It reports false if the user was
// already a member.
func (s *Store) Join(m Membership) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[m.RoomID]
	if !ok {
		return false, &RoomNotFoundError{ID: m.RoomID}
	}
	for _, member := range room.Members {
		if member == m.User {
			return false, nil
		}
	}
	room.Members = append(room.Members, m.User)
	return true, nil
}

// AddMessage appends msg to its room. It reports false for a message id that
// was stored before.
func (s *Store) AddMessage(msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		return false, &RoomNotFoundError{ID: msg.RoomID}
	}
	if s.seen[msg.ID] {
		return false, nil
	}
	m := msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &m)
	s.seen[msg.ID] = true
	return true, nil
}

// Room returns a copy of the room with the given id.
func (s *Store) Room(id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return Room{}, &RoomNotFoundError{ID: id}
	}
	return copyRoom(room), nil
}

// Rooms returns every room ordered by creation time, then id.
func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, copyRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Messages returns the messages of a room ordered by creation time, then id.
func (s *Store) Messages(roomID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, &RoomNotFoundError{ID: roomID}
	}
	messages := make([]Message, 0, len(s.messages[roomID]))
	for _, m := range s.messages[roomID] {
		messages = append(messages, *m)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func copyRoom(room *Room) Room {
	r := *room
	r.Members = append([]string{}, room.Members...)
	return r
}

package chatserver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Rooms(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, s.AddRoom(Room{ID: "b", Name: "second", CreatedAt: t0.Add(time.Second)}))
	assert.True(t, s.AddRoom(Room{ID: "a", Name: "first", CreatedAt: t0}))
	assert.False(t, s.AddRoom(Room{ID: "a", Name: "duplicate", CreatedAt: t0}))

	rooms := s.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "first", rooms[0].Name)
	assert.Equal(t, "second", rooms[1].Name)

	_, err := s.Room("missing")
	var notFound *RoomNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "room missing not found", err.Error())
}

func TestStore_Join(t *testing.T) {
	s := NewStore()
	s.AddRoom(Room{ID: "r1", Name: "general"})

	added, err := s.Join(Membership{RoomID: "r1", User: "alice"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Join(Membership{RoomID: "r1", User: "alice"})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.Join(Membership{RoomID: "nope", User: "alice"})
	assert.EqualError(t, err, "room nope not found")

	room, err := s.Room("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Members)

	room.Members[0] = "mallory"
	again, _ := s.Room("r1")
	assert.Equal(t, []string{"alice"}, again.Members, "callers get copies")
}

func TestStore_Messages(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AddRoom(Room{ID: "r1"})

	added, err := s.AddMessage(Message{ID: "m2", RoomID: "r1", Text: "later", CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, added)
	_, err = s.AddMessage(Message{ID: "m1", RoomID: "r1", Text: "earlier", CreatedAt: t0})
	require.NoError(t, err)

	added, err = s.AddMessage(Message{ID: "m1", RoomID: "r1", Text: "earlier", CreatedAt: t0})
	require.NoError(t, err)
	assert.False(t, added, "replayed messages are ignored")

	_, err = s.AddMessage(Message{ID: "m3", RoomID: "nope"})
	assert.Error(t, err)

	messages, err := s.Messages("r1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "earlier", messages[0].Text)
	assert.Equal(t, "later", messages[1].Text)

	_, err = s.Messages("nope")
	assert.Error(t, err)
}

package environment

import (
	"bytes"
	"errors"
	"testing"

	"clustertest/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvide_FirstValueWins(t *testing.T) {
	var logs bytes.Buffer
	logging.InitForCLI(logging.LevelInfo, &logs)

	r := NewRegistry()
	assert.True(t, r.Provide("room", "first", "01_create"))
	assert.False(t, r.Provide("room", "second", "02_clobber"))
	assert.False(t, r.Provide("room", nil, ""))

	value, ok := r.Lookup("room")
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 1, r.Len())

	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "02_clobber tried to overwrite environment entry \\\"room\\\"")
}

func TestLookup_Absent(t *testing.T) {
	r := NewRegistry()
	value, ok := r.Lookup("nothing")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestRequireAll(t *testing.T) {
	logging.InitForCLI(logging.LevelError, &bytes.Buffer{})

	r := NewRegistry()
	r.Provide(ClientsKey, []string{"c0", "c1"}, "bootstrap")
	r.Provide("room", map[string]interface{}{"id": "r1"}, "a")

	t.Run("all present keeps order", func(t *testing.T) {
		values, err := r.RequireAll([]string{"room", ClientsKey})
		require.NoError(t, err)
		assert.Equal(t, 2, values.Len())
		assert.Equal(t, []string{"room", ClientsKey}, values.Names())
		assert.Equal(t, map[string]interface{}{"id": "r1"}, values.At(0))

		clients, ok := values.Get(ClientsKey)
		require.True(t, ok)
		assert.Equal(t, []string{"c0", "c1"}, clients)
		assert.Len(t, values.Map(), 2)
	})

	t.Run("first missing name reported", func(t *testing.T) {
		_, err := r.RequireAll([]string{"room", "user", "other"})
		var missing *MissingError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "user", missing.Name)
	})

	t.Run("empty requirement", func(t *testing.T) {
		values, err := r.RequireAll(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, values.Len())
	})
}

func TestEntries_InBindingOrder(t *testing.T) {
	logging.InitForCLI(logging.LevelError, &bytes.Buffer{})

	r := NewRegistry()
	r.Provide("b", 1, "u1")
	r.Provide("a", 2, "u2")
	r.Provide("b", 3, "u3")

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "b", Value: 1, Producer: "u1"}, entries[0])
	assert.Equal(t, Entry{Name: "a", Value: 2, Producer: "u2"}, entries[1])
}

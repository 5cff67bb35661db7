package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustertest/internal/environment"
)

func TestScope(t *testing.T) {
	reg := environment.NewRegistry()
	reg.Provide("room", "r1", "setup")
	reg.Provide("taken", "first", "setup")

	unit := &Unit{Name: "u", Requires: []string{"room"}}
	values, err := reg.RequireAll(unit.Requires)
	require.NoError(t, err)

	scope := NewScope(unit, values, reg)
	assert.Same(t, unit, scope.Unit())

	v, ok := scope.Get("room")
	require.True(t, ok)
	assert.Equal(t, "r1", v)

	_, ok = scope.Get("taken")
	assert.False(t, ok, "only required names are visible")

	assert.True(t, scope.Provide("message", "m1"))
	assert.False(t, scope.Provide("taken", "second"))

	assert.Equal(t, map[string]interface{}{
		"room":    "r1",
		"message": "m1",
		"taken":   "first",
	}, scope.Vars())

	registered, _ := reg.Lookup("taken")
	assert.Equal(t, "first", registered)
}

func TestUnit_Validate(t *testing.T) {
	assert.NoError(t, Unit{Name: "ok"}.Validate())
	assert.Error(t, Unit{}.Validate())
	assert.Error(t, Unit{Name: "bad", WaitTime: -2}.Validate())
}

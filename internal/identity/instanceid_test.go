package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasRolePrefix(t *testing.T) {
	id := New(RoleStreaming)
	require.True(t, strings.HasPrefix(id, "socket_"))

	id2 := New(RoleRequest)
	require.True(t, strings.HasPrefix(id2, "rest_"))
}

func TestNewIsDistinctAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(RoleStreaming)
		assert.False(t, seen[id], "duplicate instance id generated: %s", id)
		seen[id] = true
	}
}

func TestNewIsSortable(t *testing.T) {
	first := New(RoleStreaming)
	second := New(RoleStreaming)
	// Lexicographic ordering on the ULID suffix tracks time ordering.
	assert.LessOrEqual(t, strings.TrimPrefix(first, "socket_"), strings.TrimPrefix(second, "socket_"))
}

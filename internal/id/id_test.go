package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsUniqueUUIDs(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for range 64 {
		value := New()
		parsed, err := uuid.Parse(value)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())

		_, dup := seen[value]
		require.False(t, dup, "duplicate id %s", value)
		seen[value] = struct{}{}
	}
}

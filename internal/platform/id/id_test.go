package id

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDsSortInCreationOrder(t *testing.T) {
	g := NewULID()
	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		ids = append(ids, g.New())
	}
	assert.True(t, sort.StringsAreSorted(ids))
	assert.Len(t, ids[0], 26)
}

func TestUUIDIsValid(t *testing.T) {
	_, err := uuid.Parse(UUID{}.New())
	require.NoError(t, err)
	assert.NotEqual(t, UUID{}.New(), UUID{}.New())
}

func TestSequence(t *testing.T) {
	s := &Sequence{Prefix: "op"}
	assert.Equal(t, "op-1", s.New())
	assert.Equal(t, "op-2", s.New())
}

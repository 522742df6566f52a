package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIsNoOpForAlreadyTracked(t *testing.T) {
	s := NewSet(3)
	s.Enqueue("i-1", 1000)
	s.Enqueue("i-1", 2000) // should not reset FirstSeenAt or Iterations

	ids := s.IDs()
	require.Len(t, ids, 1)
	assert.Equal(t, 1, s.Len())
}

func TestResolveRemovesEntryAndReturnsRecord(t *testing.T) {
	s := NewSet(3)
	s.Enqueue("i-1", 1000)

	rec, ok := s.Resolve("i-1")
	require.True(t, ok)
	assert.Equal(t, int64(1000), rec.FirstSeenAt)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Resolve("i-1")
	assert.False(t, ok)
}

func TestTickDropsAfterMaxIterations(t *testing.T) {
	s := NewSet(2)
	s.Enqueue("i-1", 0)

	dropped := s.Tick()
	assert.Empty(t, dropped)
	assert.Equal(t, 1, s.Len())

	dropped = s.Tick()
	assert.Empty(t, dropped)
	assert.Equal(t, 1, s.Len())

	dropped = s.Tick()
	require.Len(t, dropped, 1)
	assert.Equal(t, "i-1", dropped[0])
	assert.Equal(t, 0, s.Len())
}

package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinIsIdempotent(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.Join("c1", "conv1"))
	assert.False(t, tr.Join("c1", "conv1"))

	assert.Equal(t, []string{"c1"}, tr.Members("conv1"))
	assert.Equal(t, 1, tr.Count("conv1"))
}

func TestLeaveAllRemovesEveryRoom(t *testing.T) {
	tr := NewTracker()
	tr.Join("c1", "conv1")
	tr.Join("c1", "user:a")
	tr.Join("c2", "conv1")

	left := tr.LeaveAll("c1")

	assert.Equal(t, []string{"conv1", "user:a"}, left)
	assert.Equal(t, []string{"c2"}, tr.Members("conv1"))
	assert.Empty(t, tr.Members("user:a"))
	assert.Empty(t, tr.Rooms("c1"))
	assert.Equal(t, 1, tr.RoomCount())
}

func TestLeaveAllUnknownConnection(t *testing.T) {
	tr := NewTracker()
	assert.Empty(t, tr.LeaveAll("nobody"))
}

func TestRoomsSorted(t *testing.T) {
	tr := NewTracker()
	tr.Join("c1", "b")
	tr.Join("c1", "a")
	assert.Equal(t, []string{"a", "b"}, tr.Rooms("c1"))
}

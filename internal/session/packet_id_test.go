package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketID(t *testing.T) {
	mgr := NewPacketIDManager()

	id1, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id1)

	id2, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id2)
	assert.True(t, mgr.InUse(id1))

	mgr.ReleaseID(id1)
	assert.False(t, mgr.InUse(id1))

	// overflow wraps to 1 and skips identifiers still in use
	mgr.currentID = 65535
	id3, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), id3)

	id4, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id4)

	id5, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id5, "2 is still outstanding")
}

func TestPacketIDExhausted(t *testing.T) {
	mgr := NewPacketIDManager()
	for i := 0; i < 65535; i++ {
		_, err := mgr.NextID()
		require.NoError(t, err)
	}
	_, err := mgr.NextID()
	assert.ErrorIs(t, err, ErrPacketIDsExhausted)

	mgr.ReleaseID(300)
	id, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(300), id)

	mgr.Reset()
	assert.False(t, mgr.InUse(1))
}

package metainfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomPeerIDUnique(t *testing.T) {
	p1, err := RandomPeerID(1)
	require.NoError(t, err)
	p2, err := RandomPeerID(1)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestPeerIDStringRoundTrip(t *testing.T) {
	p, err := RandomPeerID(7)
	require.NoError(t, err)

	parsed, err := ParsePeerID(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestParsePeerIDInvalidLength(t *testing.T) {
	_, err := ParsePeerID("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidPeerIDLength)
}

func TestPeerIDLessThan(t *testing.T) {
	var a, b PeerID
	a[19] = 1
	b[19] = 2
	assert.True(t, a.LessThan(b))
	assert.False(t, b.LessThan(a))
}

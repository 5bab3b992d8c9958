package peerstore

import (
	"net"
	"testing"

	"erri120/goannounce/protocol"
	"erri120/goannounce/swarm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func peer(last byte) protocol.PeerAddr {
	return protocol.PeerAddr{IP: net.IPv4(10, 0, 0, last), Port: 6881}
}

func TestStoreQueuesNewPeersOnce(t *testing.T) {
	store, err := New(0, zaptest.NewLogger(t))
	require.NoError(t, err)

	session := swarm.New(protocol.InfoHash{0x01}, 0)

	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1), peer(2)}))
	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(2), peer(3)}))

	assert.Equal(t, 3, store.Pending())
	assert.Equal(t, 3, store.Known())

	var order []string
	for {
		next, ok := store.Next()
		if !ok {
			break
		}
		order = append(order, next.String())
	}

	assert.Equal(t, []string{"10.0.0.1:6881", "10.0.0.2:6881", "10.0.0.3:6881"}, order)
}

func TestStoreForget(t *testing.T) {
	store, err := New(0, nil)
	require.NoError(t, err)

	session := swarm.New(protocol.InfoHash{}, 0)

	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1)}))
	store.Next()

	store.Forget(peer(1))
	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1)}))

	next, ok := store.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(peer(1)))
}

func TestStoreEvictsOldestPeers(t *testing.T) {
	store, err := New(2, nil)
	require.NoError(t, err)

	session := swarm.New(protocol.InfoHash{}, 0)

	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1), peer(2), peer(3)}))
	assert.Equal(t, 2, store.Known())
	assert.Equal(t, 2, store.Pending())

	// peer 1 was evicted and counts as new again, pushing out peer 2
	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1)}))
	assert.Equal(t, 2, store.Pending())

	var order []string
	for {
		next, ok := store.Next()
		if !ok {
			break
		}
		order = append(order, next.String())
	}

	assert.Equal(t, []string{"10.0.0.3:6881", "10.0.0.1:6881"}, order)
}

func TestStoreForgetQueuedPeer(t *testing.T) {
	store, err := New(0, nil)
	require.NoError(t, err)

	session := swarm.New(protocol.InfoHash{}, 0)

	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1), peer(2)}))
	store.Forget(peer(1))
	require.NoError(t, store.PeersDiscovered(session, []protocol.PeerAddr{peer(1)}))

	assert.Equal(t, 2, store.Pending())
	assert.Equal(t, 2, store.Known())

	next, ok := store.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(peer(2)))
}

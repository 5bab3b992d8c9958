package server

import (
	"sync"

	"erri120/goannounce/protocol"
)

type Torrent interface {
	GetLeechers() (int32, error)
	GetSeeders() (int32, error)
	AddPeer(peer protocol.PeerAddr, seeding bool) error
	RemovePeer(peer protocol.PeerAddr) error
	GetPeers(maxPeers int32, exclude protocol.PeerAddr) ([]protocol.PeerAddr, error)
}

const (
	maxPeerCount     = 50
	defaultPeerCount = 10
)

type swarmPeer struct {
	addr    protocol.PeerAddr
	seeding bool
}

// MemoryTorrent keeps the swarm of one torrent in memory.
type MemoryTorrent struct {
	mu    sync.Mutex
	peers []swarmPeer
}

func NewMemoryTorrent() *MemoryTorrent {
	return &MemoryTorrent{}
}

func (torrent *MemoryTorrent) GetLeechers() (int32, error) {
	return torrent.count(false), nil
}

func (torrent *MemoryTorrent) GetSeeders() (int32, error) {
	return torrent.count(true), nil
}

func (torrent *MemoryTorrent) count(seeding bool) int32 {
	torrent.mu.Lock()
	defer torrent.mu.Unlock()

	var n int32
	for _, peer := range torrent.peers {
		if peer.seeding == seeding {
			n++
		}
	}
	return n
}

// AddPeer adds the peer or updates its seeding state if it is already known.
func (torrent *MemoryTorrent) AddPeer(peer protocol.PeerAddr, seeding bool) error {
	torrent.mu.Lock()
	defer torrent.mu.Unlock()

	for i := range torrent.peers {
		if torrent.peers[i].addr.Equal(peer) {
			torrent.peers[i].seeding = seeding
			return nil
		}
	}

	torrent.peers = append(torrent.peers, swarmPeer{addr: peer, seeding: seeding})
	return nil
}

func (torrent *MemoryTorrent) RemovePeer(peer protocol.PeerAddr) error {
	torrent.mu.Lock()
	defer torrent.mu.Unlock()

	for i := range torrent.peers {
		if torrent.peers[i].addr.Equal(peer) {
			torrent.peers = append(torrent.peers[:i], torrent.peers[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetPeers returns up to maxPeers peers other than exclude. -1 asks for the
// default amount.
func (torrent *MemoryTorrent) GetPeers(maxPeers int32, exclude protocol.PeerAddr) ([]protocol.PeerAddr, error) {
	if maxPeers < 0 {
		maxPeers = defaultPeerCount
	}

	if maxPeers > maxPeerCount {
		maxPeers = maxPeerCount
	}

	torrent.mu.Lock()
	defer torrent.mu.Unlock()

	peers := make([]protocol.PeerAddr, 0, maxPeers)
	for _, peer := range torrent.peers {
		if len(peers) >= int(maxPeers) {
			break
		}

		if peer.addr.Equal(exclude) {
			continue
		}

		peers = append(peers, peer.addr)
	}

	return peers, nil
}

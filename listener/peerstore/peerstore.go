// Package peerstore keeps the peers discovered through announces and queues
// the new ones for connection.
package peerstore

import (
	"sync"

	"erri120/goannounce/announce"
	"erri120/goannounce/protocol"

	"github.com/gammazero/deque"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const DefaultCapacity = 1024

// Store remembers up to a fixed number of peers per store. A peer seen
// again while still remembered is not queued a second time. A peer that is
// evicted or forgotten also leaves the queue, so every queued peer is
// remembered and no peer is queued twice.
type Store struct {
	Logger *zap.Logger

	mu      sync.Mutex
	seen    *lru.Cache[string, protocol.PeerAddr]
	pending deque.Deque[protocol.PeerAddr]
}

var _ announce.Listener = (*Store)(nil)

func New(capacity int, logger *zap.Logger) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{Logger: logger}

	seen, err := lru.NewWithEvict[string, protocol.PeerAddr](capacity, store.evicted)
	if err != nil {
		return nil, err
	}

	store.seen = seen
	return store, nil
}

// evicted runs inside seen.Add and seen.Remove, which are only called with
// store.mu held.
func (store *Store) evicted(key string, peer protocol.PeerAddr) {
	index := store.pending.Index(func(queued protocol.PeerAddr) bool {
		return queued.Equal(peer)
	})
	if index >= 0 {
		store.pending.Remove(index)
	}
}

func (store *Store) AnnounceStatistics(session announce.Session, stats announce.Stats) error {
	return nil
}

func (store *Store) PeersDiscovered(session announce.Session, peers []protocol.PeerAddr) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	added := 0
	for _, peer := range peers {
		key := peer.String()
		if store.seen.Contains(key) {
			continue
		}

		store.seen.Add(key, peer)
		store.pending.PushBack(peer)
		added++
	}

	store.Logger.Debug("Peers discovered",
		zap.Stringer("infoHash", session.InfoHash()),
		zap.Int("received", len(peers)),
		zap.Int("new", added),
	)
	return nil
}

// Next returns the oldest queued peer. The peer stays remembered.
func (store *Store) Next() (protocol.PeerAddr, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.pending.Len() == 0 {
		return protocol.PeerAddr{}, false
	}

	return store.pending.PopFront(), true
}

// Pending is the number of queued peers.
func (store *Store) Pending() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.pending.Len()
}

// Known is the number of remembered peers.
func (store *Store) Known() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.seen.Len()
}

// Forget removes a peer, queued or not, so that a later announce queues it
// again, e.g. after a failed connection attempt.
func (store *Store) Forget(peer protocol.PeerAddr) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.seen.Remove(peer.String())
}

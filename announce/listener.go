package announce

import (
	"reflect"
	"sync"
	"time"

	"erri120/goannounce/protocol"
)

// Stats is what the tracker reported about the swarm.
type Stats struct {
	Interval time.Duration
	Seeders  int32
	Leechers int32
}

type StatsListener interface {
	AnnounceStatistics(session Session, stats Stats) error
}

type PeersListener interface {
	PeersDiscovered(session Session, peers []protocol.PeerAddr) error
}

// Listener receives the outcome of every successful announce. The
// statistics are always delivered before the peers. Comparable listeners,
// such as pointers, are registered once. Values that cannot be compared
// have no identity and are added on every registration.
type Listener interface {
	StatsListener
	PeersListener
}

// ListenerFuncs adapts functions to a Listener. Nil functions are skipped.
// Register it as a pointer.
type ListenerFuncs struct {
	OnStats func(session Session, stats Stats) error
	OnPeers func(session Session, peers []protocol.PeerAddr) error
}

func (funcs *ListenerFuncs) AnnounceStatistics(session Session, stats Stats) error {
	if funcs.OnStats == nil {
		return nil
	}
	return funcs.OnStats(session, stats)
}

func (funcs *ListenerFuncs) PeersDiscovered(session Session, peers []protocol.PeerAddr) error {
	if funcs.OnPeers == nil {
		return nil
	}
	return funcs.OnPeers(session, peers)
}

type registry struct {
	mu        sync.RWMutex
	index     map[Listener]struct{}
	listeners []Listener
}

func (registry *registry) add(listener Listener) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if !reflect.TypeOf(listener).Comparable() {
		registry.listeners = append(registry.listeners, listener)
		return true
	}

	if registry.index == nil {
		registry.index = make(map[Listener]struct{})
	}

	if _, ok := registry.index[listener]; ok {
		return false
	}

	registry.index[listener] = struct{}{}
	registry.listeners = append(registry.listeners, listener)
	return true
}

// isNil reports whether listener is nil or a nil pointer wrapped in the
// interface.
func isNil(listener Listener) bool {
	if listener == nil {
		return true
	}

	value := reflect.ValueOf(listener)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return value.IsNil()
	default:
		return false
	}
}

func (registry *registry) snapshot() []Listener {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	listeners := make([]Listener, len(registry.listeners))
	copy(listeners, registry.listeners)
	return listeners
}

func (registry *registry) len() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	return len(registry.listeners)
}

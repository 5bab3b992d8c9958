package announce

import (
	"context"
	"net"

	"erri120/goannounce/protocol"
)

// Session is the read-only view of a swarm membership that gets reported to
// the tracker. Values are read at the time of each announce.
type Session interface {
	InfoHash() protocol.InfoHash
	Uploaded() int64
	Downloaded() int64
	Left() int64
}

// Identity identifies the local peer to the tracker.
type Identity struct {
	PeerId protocol.PeerId
	IP     net.IP // optional, nil lets the tracker use the sender address
	Port   uint16
	Key    int32
}

// Request is everything a transport needs to send one announce.
type Request struct {
	InfoHash   protocol.InfoHash
	PeerId     protocol.PeerId
	IP         net.IP
	Port       uint16
	Key        int32
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      protocol.AnnounceEvent
	NumWant    int32
}

// Transport performs the wire exchange with a single tracker. Call returns
// the raw reply and Decode turns it into a protocol.Message. Errors from
// either step are returned to the caller of Client.Announce as they are.
//
// Transports holding connections should also implement io.Closer.
type Transport interface {
	Call(ctx context.Context, request Request) ([]byte, error)
	Decode(raw []byte) (protocol.Message, error)
}

package protocol

import (
	"net"
	"time"
)

const SizeOfResponseHeader uint32 = 4 + 4

type ResponseHeader struct {
	Action        Action
	TransactionId TransactionId
}

const SizeOfConnectResponse uint32 = 4 + 4 + 8

type ConnectResponse struct {
	Action        Action
	TransactionId TransactionId
	ConnectionId  ConnectionId
}

const SizeOfIPv4AnnounceResponse uint32 = 4 + 4 + 4

type IPv4AnnounceResponse struct {
	Interval int32
	Leechers int32
	Seeders  int32
}

// Message is a decoded tracker reply.
type Message interface {
	MessageType() string
}

// ErrorMessage is sent by the tracker when it refuses a request.
type ErrorMessage struct {
	Reason string
}

func (*ErrorMessage) MessageType() string { return "ERROR" }

// AnnounceMessage is a successful announce reply.
type AnnounceMessage struct {
	Interval    time.Duration
	MinInterval time.Duration
	Seeders     int32
	Leechers    int32
	Peers       []PeerAddr
	TrackerId   string
	Warning     string
	ExternalIP  net.IP
}

func (*AnnounceMessage) MessageType() string { return "ANNOUNCE_RESPONSE" }

type ConnectMessage struct {
	ConnectionId ConnectionId
}

func (*ConnectMessage) MessageType() string { return "CONNECT_RESPONSE" }

type ScrapeFile struct {
	Seeders   int32
	Completed int32
	Leechers  int32
}

type ScrapeMessage struct {
	Files []ScrapeFile
}

func (*ScrapeMessage) MessageType() string { return "SCRAPE_RESPONSE" }

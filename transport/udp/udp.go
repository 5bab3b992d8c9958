// Package udp implements the UDP tracker protocol (BEP 15) as an
// announce.Transport.
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"erri120/goannounce/announce"
	"erri120/goannounce/protocol"

	"go.uber.org/zap"
)

const blockSize = 2048

type Config struct {
	Logger *zap.Logger

	// Timeout bounds one request/response exchange when the context has no
	// earlier deadline.
	Timeout time.Duration

	// ConnectionIdLifetime is how long a connection id is reused.
	ConnectionIdLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Logger:               zap.NewNop(),
		Timeout:              15 * time.Second,
		ConnectionIdLifetime: time.Minute,
	}
}

type Transport struct {
	endpoint *url.URL
	config   Config
	logger   *zap.Logger

	mu           sync.Mutex
	conn         *net.UDPConn
	connectionId protocol.ConnectionId
	connectedAt  time.Time
	closed       bool
}

var _ announce.Transport = (*Transport)(nil)

func New(endpoint *url.URL, config Config) (*Transport, error) {
	if endpoint.Scheme != "udp" {
		return nil, fmt.Errorf("Unsupported scheme %q for UDP tracker", endpoint.Scheme)
	}

	if endpoint.Port() == "" {
		return nil, fmt.Errorf("UDP tracker %s has no port", endpoint.Redacted())
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	if config.ConnectionIdLifetime <= 0 {
		config.ConnectionIdLifetime = DefaultConfig().ConnectionIdLifetime
	}

	return &Transport{
		endpoint: endpoint,
		config:   config,
		logger:   config.Logger.With(zap.String("tracker", endpoint.Host)),
	}, nil
}

// Call connects to the tracker if there is no valid connection id and sends
// the announce. The returned datagram is either an announce reply or an
// error reply.
func (transport *Transport) Call(ctx context.Context, request announce.Request) ([]byte, error) {
	transport.mu.Lock()
	defer transport.mu.Unlock()

	if transport.closed {
		return nil, errors.New("UDP transport is closed")
	}

	conn, err := transport.dial()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(transport.config.Timeout)
	ctxDeadline, hasCtxDeadline := ctx.Deadline()
	if hasCtxDeadline && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// unblock pending reads when the context is cancelled
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := transport.exchange(conn, request)
	if err == nil {
		return data, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("UDP announce to %s: %w", transport.endpoint.Host, ctxErr)
	}

	// the socket deadline can fire just before the context notices
	if hasCtxDeadline && !time.Now().Before(ctxDeadline) {
		return nil, fmt.Errorf("UDP announce to %s: %w", transport.endpoint.Host, context.DeadlineExceeded)
	}

	return nil, err
}

func (transport *Transport) exchange(conn *net.UDPConn, request announce.Request) ([]byte, error) {
	if !transport.isConnected() {
		data, err := transport.connect(conn)
		if err != nil {
			return nil, err
		}

		// the tracker refused the connect request
		if data != nil {
			return data, nil
		}
	}

	transactionId := protocol.TransactionId(rand.Int31())

	announceRequest := protocol.IPv4AnnounceRequest{
		InfoHash:   request.InfoHash,
		PeerId:     request.PeerId,
		Downloaded: request.Downloaded,
		Left:       request.Left,
		Uploaded:   request.Uploaded,
		Event:      request.Event,
		IpAddress:  ipv4ToUint32(request.IP),
		Key:        request.Key,
		NumWanted:  request.NumWant,
		Port:       request.Port,
	}

	urlData := protocol.EncodeURLData(transport.endpoint)

	b, err := protocol.Marshal(protocol.SizeOfRequestHeader+protocol.SizeOfIPv4AnnounceRequest+uint32(len(urlData)), protocol.RequestHeader{
		ConnectionId:  transport.connectionId,
		Action:        protocol.ActionAnnounce,
		TransactionId: transactionId,
	}, announceRequest, urlData)
	if err != nil {
		return nil, err
	}

	data, header, err := transport.roundTrip(conn, b, transactionId)
	if err != nil {
		return nil, err
	}

	if header.Action == protocol.ActionError {
		// the connection id might have expired on the tracker side
		transport.connectionId = 0
		transport.connectedAt = time.Time{}
	}

	return data, nil
}

// connect obtains a new connection id. A non-nil result is an error reply
// from the tracker.
func (transport *Transport) connect(conn *net.UDPConn) ([]byte, error) {
	transactionId := protocol.TransactionId(rand.Int31())

	b, err := protocol.Marshal(protocol.SizeOfRequestHeader, protocol.RequestHeader{
		ConnectionId:  protocol.ConnectRequestMagic,
		Action:        protocol.ActionConnect,
		TransactionId: transactionId,
	})
	if err != nil {
		return nil, err
	}

	data, header, err := transport.roundTrip(conn, b, transactionId)
	if err != nil {
		return nil, err
	}

	switch header.Action {
	case protocol.ActionConnect:
	case protocol.ActionError:
		return data, nil
	default:
		return nil, fmt.Errorf("Unexpected action %s in connect response", header.Action)
	}

	if len(data) < int(protocol.SizeOfConnectResponse) {
		return nil, fmt.Errorf("Connect response is too small: %d bytes", len(data))
	}

	var response protocol.ConnectResponse
	if err := protocol.Unmarshal(bytes.NewReader(data), &response); err != nil {
		return nil, err
	}

	transport.connectionId = response.ConnectionId
	transport.connectedAt = time.Now()

	transport.logger.Debug("Connected to tracker", zap.Int64("connectionId", int64(response.ConnectionId)))
	return nil, nil
}

func (transport *Transport) roundTrip(conn *net.UDPConn, b []byte, transactionId protocol.TransactionId) ([]byte, protocol.ResponseHeader, error) {
	var header protocol.ResponseHeader

	n, err := conn.Write(b)
	if err != nil {
		return nil, header, fmt.Errorf("UDP write to %s: %w", transport.endpoint.Host, err)
	}

	if n != len(b) {
		return nil, header, fmt.Errorf("Wrote %d instead of %d bytes", n, len(b))
	}

	data := make([]byte, blockSize)
	for {
		n, err = conn.Read(data)
		if err != nil {
			return nil, header, fmt.Errorf("UDP read from %s: %w", transport.endpoint.Host, err)
		}

		if n < int(protocol.SizeOfResponseHeader) {
			transport.logger.Warn("Received package is too small", zap.Int("bytes", n))
			continue
		}

		if err := protocol.Unmarshal(bytes.NewReader(data[:n]), &header); err != nil {
			return nil, header, err
		}

		// late replies to earlier requests are dropped
		if header.TransactionId != transactionId {
			transport.logger.Debug("Dropping reply with unknown transaction id",
				zap.Int32("transactionId", int32(header.TransactionId)))
			continue
		}

		return append([]byte(nil), data[:n]...), header, nil
	}
}

// Decode parses a reply datagram.
func (transport *Transport) Decode(raw []byte) (protocol.Message, error) {
	message, err := Decode(raw)
	if err != nil {
		return nil, &announce.DecodeError{Err: err}
	}
	return message, nil
}

func Decode(raw []byte) (protocol.Message, error) {
	reader := bytes.NewReader(raw)

	var header protocol.ResponseHeader
	if err := protocol.Unmarshal(reader, &header); err != nil {
		return nil, fmt.Errorf("Unable to unmarshal response header: %w", err)
	}

	switch header.Action {
	case protocol.ActionConnect:
		var connectionId protocol.ConnectionId
		if err := protocol.Unmarshal(reader, &connectionId); err != nil {
			return nil, fmt.Errorf("Unable to unmarshal connect response: %w", err)
		}
		return &protocol.ConnectMessage{ConnectionId: connectionId}, nil
	case protocol.ActionAnnounce:
		var response protocol.IPv4AnnounceResponse
		if err := protocol.Unmarshal(reader, &response); err != nil {
			return nil, fmt.Errorf("Unable to unmarshal announce response: %w", err)
		}

		var peers protocol.IPv4Peers
		if err := peers.UnmarshalBinary(raw[len(raw)-reader.Len():]); err != nil {
			return nil, err
		}

		return &protocol.AnnounceMessage{
			Interval: time.Duration(response.Interval) * time.Second,
			Seeders:  response.Seeders,
			Leechers: response.Leechers,
			Peers:    peers,
		}, nil
	case protocol.ActionScrape:
		if reader.Len()%12 != 0 {
			return nil, fmt.Errorf("Scrape response of %d bytes is malformed", reader.Len())
		}

		files := make([]protocol.ScrapeFile, reader.Len()/12)
		if err := protocol.Unmarshal(reader, files); err != nil {
			return nil, err
		}
		return &protocol.ScrapeMessage{Files: files}, nil
	case protocol.ActionError:
		return &protocol.ErrorMessage{Reason: string(raw[len(raw)-reader.Len():])}, nil
	default:
		return nil, fmt.Errorf("Unknown action %d in response", header.Action)
	}
}

func (transport *Transport) isConnected() bool {
	if transport.connectedAt.IsZero() {
		return false
	}
	return time.Since(transport.connectedAt) < transport.config.ConnectionIdLifetime
}

func (transport *Transport) dial() (*net.UDPConn, error) {
	if transport.conn != nil {
		return transport.conn, nil
	}

	addr, err := net.ResolveUDPAddr("udp", transport.endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("Unable to resolve %s: %w", transport.endpoint.Host, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("Unable to dial %s: %w", transport.endpoint.Host, err)
	}

	transport.conn = conn
	return conn, nil
}

// Close closes the socket if one was opened. Calling it again does nothing.
func (transport *Transport) Close() error {
	transport.mu.Lock()
	defer transport.mu.Unlock()

	transport.closed = true

	if transport.conn == nil {
		return nil
	}

	err := transport.conn.Close()
	transport.conn = nil
	return err
}

func ipv4ToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// Package server is a small in-memory UDP tracker. It answers connect and
// announce requests and is used to exercise announce clients end to end.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"erri120/goannounce/protocol"

	"go.uber.org/zap"
)

const (
	blockSize                   = 1024
	defaultAnnounceInterval     = 900
	defaultConnectionIdLifetime = time.Minute * 2
)

var ErrUnknownTorrent = errors.New("unknown torrent")

type GetTorrentFunc func(infoHash protocol.InfoHash) (Torrent, error)

type IsBannedFunc func(remoteAddr *net.UDPAddr) bool

type Server struct {
	Logger     *zap.Logger
	GetTorrent GetTorrentFunc
	IsBanned   IsBannedFunc

	// Interval in seconds sent to clients.
	Interval             int32
	ConnectionIdLifetime time.Duration

	mu               sync.Mutex
	conn             *net.UDPConn
	connectedClients map[protocol.ConnectionId]ConnectedClient
	closed           bool
}

// Responds to a client with the given data.
func (server *Server) Respond(remoteAddr *net.UDPAddr, bufSize uint32, responseHeader protocol.ResponseHeader, parts ...interface{}) error {
	bytes, err := protocol.Marshal(bufSize, append([]interface{}{responseHeader}, parts...)...)
	if err != nil {
		return err
	}

	conn := server.connection()
	if conn == nil {
		return fmt.Errorf("Server is not listening!")
	}

	n, err := conn.WriteToUDP(bytes, remoteAddr)
	if err != nil {
		return err
	}

	if n != len(bytes) {
		return fmt.Errorf("Wrote %d instead of %d bytes", n, len(bytes))
	}

	return nil
}

// Responds to a client with an error message.
func (server *Server) RespondWithError(remoteAddr *net.UDPAddr, transactionId protocol.TransactionId, message string) error {
	b := []byte(message)
	return server.Respond(remoteAddr, protocol.SizeOfResponseHeader+uint32(len(b)), protocol.ResponseHeader{
		Action:        protocol.ActionError,
		TransactionId: transactionId,
	}, b)
}

// Closes the underlying connection if it is open.
func (server *Server) Close() error {
	server.mu.Lock()
	defer server.mu.Unlock()

	if server.closed {
		return fmt.Errorf("Server is already closed!")
	}

	server.closed = true

	if server.conn == nil {
		return nil
	}

	err := server.conn.Close()
	server.conn = nil
	return err
}

// Addr returns the address the server is listening on, or nil.
func (server *Server) Addr() net.Addr {
	conn := server.connection()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

func (server *Server) connection() *net.UDPConn {
	server.mu.Lock()
	defer server.mu.Unlock()

	return server.conn
}

func (server *Server) isClosed() bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	return server.closed
}

// Registers a new connection and returns the connection id.
func (server *Server) RegisterNewConnection() protocol.ConnectionId {
	// connection ids should not be guessable by the client, can look into crypto/rand
	connectionId := protocol.ConnectionId(rand.Int63())

	server.mu.Lock()
	defer server.mu.Unlock()

	server.connectedClients[connectionId] = ConnectedClient{
		ConnectionId: connectionId,
		TimeIdIssued: time.Now(),
	}

	return connectionId
}

// Unregisters a connection.
func (server *Server) UnregisterConnection(connectionId protocol.ConnectionId) {
	server.mu.Lock()
	defer server.mu.Unlock()

	delete(server.connectedClients, connectionId)
}

// Checks if the given connection id is known.
func (server *Server) IsConnected(connectionId protocol.ConnectionId) bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	_, ok := server.connectedClients[connectionId]
	return ok
}

// Checks if the connection of the given connection id is still valid.
func (server *Server) IsValidConnection(connectionId protocol.ConnectionId) bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	connection, ok := server.connectedClients[connectionId]
	if !ok {
		return false
	}

	return connection.IsValid(server.ConnectionIdLifetime)
}

// StartCleanup removes expired connections every sleepTime until ctx is done.
func (server *Server) StartCleanup(ctx context.Context, sleepTime time.Duration) {
	ticker := time.NewTicker(sleepTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		server.mu.Lock()
		for connectionId, connection := range server.connectedClients {
			if !connection.IsValid(server.ConnectionIdLifetime) {
				delete(server.connectedClients, connectionId)
			}
		}
		server.mu.Unlock()
	}
}

// Listen opens a socket on addr and serves it until the server is closed.
func (server *Server) Listen(addr *net.UDPAddr) error {
	// TODO: UDP over IPv4 vs IPv6, the network name has to be changed to "udp4" or "udp6"
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		if server.Logger != nil {
			server.Logger.Error("Unable to start listening for packages", zap.Error(err))
		}
		return err
	}

	return server.Serve(conn)
}

// Serve handles incoming messages on conn until the server is closed.
func (server *Server) Serve(conn *net.UDPConn) error {
	if err := server.init(conn); err != nil {
		conn.Close()
		return err
	}

	data := make([]byte, blockSize)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(data)

		if server.isClosed() {
			server.Logger.Info("Server closed, stopping listening")
			return nil
		}

		if err != nil {
			server.Logger.Error("Unable to read package", zap.Error(err))
			continue
		}

		if n < int(protocol.SizeOfRequestHeader) {
			server.Logger.Error("Received package is too small", zap.Int("bytes", n))
			continue
		}

		// the buffer is reused for the next read
		reader := bytes.NewReader(append([]byte(nil), data[:n]...))
		go server.handleRequest(reader, remoteAddr)
	}
}

func (server *Server) init(conn *net.UDPConn) error {
	server.mu.Lock()
	defer server.mu.Unlock()

	if server.closed {
		return fmt.Errorf("Server is closed!")
	}

	if server.conn != nil {
		return fmt.Errorf("Server is already listening!")
	}

	if server.Logger == nil {
		server.Logger = zap.NewNop()
	}

	if server.GetTorrent == nil {
		return fmt.Errorf("GetTorrent function is not set!")
	}

	if server.IsBanned == nil {
		server.IsBanned = func(remoteAddr *net.UDPAddr) bool {
			return false
		}
	}

	if server.Interval <= 0 {
		server.Interval = defaultAnnounceInterval
	}

	if server.ConnectionIdLifetime <= 0 {
		server.ConnectionIdLifetime = defaultConnectionIdLifetime
	}

	server.connectedClients = make(map[protocol.ConnectionId]ConnectedClient)
	server.conn = conn
	return nil
}

func (server *Server) handleRequest(reader *bytes.Reader, remoteAddr *net.UDPAddr) {
	n := reader.Len()

	var requestHeader protocol.RequestHeader
	if err := protocol.Unmarshal(reader, &requestHeader); err != nil {
		server.Logger.Error("Unable to unmarshal request header", zap.Error(err))
		return
	}

	logger := server.Logger.With(
		zap.String("remote", remoteAddr.String()),
		zap.Stringer("action", requestHeader.Action),
		zap.Int64("connectionId", int64(requestHeader.ConnectionId)),
	)

	logger.Debug("Handling request from client", zap.Int("bytes", n))

	if server.IsBanned(remoteAddr) {
		logger.Warn("Banned client tried to send data")
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, "banned")
		return
	}

	switch requestHeader.Action {
	case protocol.ActionConnect:
		if n > int(protocol.SizeOfRequestHeader) {
			logger.Warn("Client sent more data than expected for connect request", zap.Int("diff", n-int(protocol.SizeOfRequestHeader)))
		}

		if requestHeader.ConnectionId != protocol.ConnectRequestMagic {
			logger.Error("Client used wrong connection id for connect request")
			return
		}

		connectionId := server.RegisterNewConnection()

		err := server.Respond(remoteAddr, protocol.SizeOfConnectResponse, protocol.ResponseHeader{
			Action:        protocol.ActionConnect,
			TransactionId: requestHeader.TransactionId,
		}, connectionId)

		if err != nil {
			logger.Error("Unable to respond to client with connect response", zap.Error(err))
			return
		}
	case protocol.ActionAnnounce:
		server.handleAnnounce(logger, reader, requestHeader, remoteAddr)
	case protocol.ActionScrape:
		// TODO: implement scraping
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, "Unsupported")
	default:
		logger.Warn("Unknown action")
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, fmt.Sprintf("Unknown Action: %d", requestHeader.Action))
	}
}

func (server *Server) handleAnnounce(logger *zap.Logger, reader *bytes.Reader, requestHeader protocol.RequestHeader, remoteAddr *net.UDPAddr) {
	if !server.IsConnected(requestHeader.ConnectionId) {
		logger.Warn("Client tried to announce with unregistered connection id")
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, "unknown connection id")
		return
	}

	if !server.IsValidConnection(requestHeader.ConnectionId) {
		logger.Warn("Client tried to use an expired connection id")
		server.UnregisterConnection(requestHeader.ConnectionId)
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, "connection id expired")
		return
	}

	// TODO: IPv4/IPv6
	if reader.Len() < int(protocol.SizeOfIPv4AnnounceRequest) {
		logger.Error("Client sent not enough data for an announce request", zap.Int("bytes", reader.Len()))
		return
	}

	var announceRequest protocol.IPv4AnnounceRequest
	if err := protocol.Unmarshal(reader, &announceRequest); err != nil {
		logger.Error("Unable to unmarshal IPv4 announce request", zap.Error(err))
		return
	}

	if reader.Len() > 0 {
		// check for BEP 41 as an extension
		url, err := protocol.ExtractExtensionData(reader)
		if err != nil {
			logger.Error("Unable to extract extension data", zap.Error(err))
			return
		}

		logger.Debug("Extracted extension data", zap.String("url", url))
	}

	infoHashField := zap.Binary("infoHash", announceRequest.InfoHash[:])

	torrent, err := server.GetTorrent(announceRequest.InfoHash)
	if err != nil {
		logger.Warn("Unable to get torrent", zap.Error(err), infoHashField)
		server.respondWithError(logger, remoteAddr, requestHeader.TransactionId, err.Error())
		return
	}

	self := protocol.PeerAddr{IP: remoteAddr.IP, Port: uint16(remoteAddr.Port)}
	if announceRequest.Port != 0 {
		self.Port = announceRequest.Port
	}

	if announceRequest.Event == protocol.AnnounceEventStopped {
		err = torrent.RemovePeer(self)
	} else {
		err = torrent.AddPeer(self, announceRequest.Left == 0)
	}

	if err != nil {
		logger.Error("Unable to update peer", zap.Error(err), infoHashField)
		return
	}

	peers, err := torrent.GetPeers(announceRequest.NumWanted, self)
	if err != nil {
		logger.Error("Unable to get peers", zap.Error(err), infoHashField)
		return
	}

	leechers, err := torrent.GetLeechers()
	if err != nil {
		logger.Error("Unable to get leechers", zap.Error(err), infoHashField)
		return
	}

	seeders, err := torrent.GetSeeders()
	if err != nil {
		logger.Error("Unable to get seeders", zap.Error(err), infoHashField)
		return
	}

	// TODO: IPv4/IPv6
	b, err := protocol.IPv4Peers(peers).MarshalBinary()
	if err != nil {
		logger.Error("Unable to marshal IPv4 peers", zap.Error(err))
		return
	}

	err = server.Respond(remoteAddr, protocol.SizeOfResponseHeader+protocol.SizeOfIPv4AnnounceResponse+uint32(len(b)), protocol.ResponseHeader{
		Action:        protocol.ActionAnnounce,
		TransactionId: requestHeader.TransactionId,
	}, protocol.IPv4AnnounceResponse{
		Interval: server.Interval,
		Leechers: leechers,
		Seeders:  seeders,
	}, b)

	if err != nil {
		logger.Error("Unable to respond to client with announce response", zap.Error(err))
	}
}

func (server *Server) respondWithError(logger *zap.Logger, remoteAddr *net.UDPAddr, transactionId protocol.TransactionId, message string) {
	if err := server.RespondWithError(remoteAddr, transactionId, message); err != nil {
		logger.Error("Unable to respond to client with error", zap.Error(err))
	}
}

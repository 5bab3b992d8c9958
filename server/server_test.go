package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"erri120/goannounce/protocol"

	"go.uber.org/zap/zaptest"
)

var testInfoHash = protocol.InfoHash{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}

func startTestServer(t *testing.T, server *Server) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(conn)
	}()

	t.Cleanup(func() {
		server.Close()
		<-done
	})

	return conn.LocalAddr().(*net.UDPAddr)
}

func readResponse(t *testing.T, conn *net.UDPConn) *bytes.Reader {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	data := make([]byte, 1024)
	n, err := conn.Read(data)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	return bytes.NewReader(data[:n])
}

func connect(t *testing.T, conn *net.UDPConn) protocol.ConnectionId {
	t.Helper()

	connectRequest := protocol.RequestHeader{
		Action:        protocol.ActionConnect,
		ConnectionId:  protocol.ConnectRequestMagic,
		TransactionId: 0x01,
	}

	connectRequestBytes, err := protocol.Marshal(protocol.SizeOfRequestHeader, connectRequest)
	if err != nil {
		t.Fatalf("Failed to marshal connect request: %v", err)
	}

	if _, err = conn.Write(connectRequestBytes); err != nil {
		t.Fatalf("Failed to write connect request: %v", err)
	}

	var connectResponse protocol.ConnectResponse
	if err := protocol.Unmarshal(readResponse(t, conn), &connectResponse); err != nil {
		t.Fatalf("Failed to unmarshal connect response: %v", err)
	}

	// action should be the same
	if connectResponse.Action != connectRequest.Action {
		t.Fatalf("Unexpected connect response action: %v", connectResponse.Action)
	}

	// transaction id should be the same
	if connectResponse.TransactionId != connectRequest.TransactionId {
		t.Fatalf("Unexpected connect response transaction id: %v", connectResponse.TransactionId)
	}

	// on connect we should get a new connection id
	if connectResponse.ConnectionId == connectRequest.ConnectionId {
		t.Fatalf("Unexpected connect response connection id: %v", connectResponse.ConnectionId)
	}

	return connectResponse.ConnectionId
}

func announce(t *testing.T, conn *net.UDPConn, connectionId protocol.ConnectionId, infoHash protocol.InfoHash) *bytes.Reader {
	t.Helper()

	announceRequestHeader := protocol.RequestHeader{
		Action:        protocol.ActionAnnounce,
		ConnectionId:  connectionId,
		TransactionId: 0x02,
	}

	announceRequest := protocol.IPv4AnnounceRequest{
		InfoHash:  infoHash,
		PeerId:    protocol.PeerId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		Left:      100,
		Event:     protocol.AnnounceEventStarted,
		NumWanted: 10,
		Port:      6881,
	}

	urlData := []byte{byte(protocol.BEP41OptionTypeURLData), 9}
	urlData = append(urlData, "/announce"...)

	announceRequestBytes, err := protocol.Marshal(protocol.SizeOfRequestHeader+protocol.SizeOfIPv4AnnounceRequest+uint32(len(urlData)), announceRequestHeader, announceRequest, urlData)
	if err != nil {
		t.Fatalf("Failed to marshal announce request: %v", err)
	}

	if _, err = conn.Write(announceRequestBytes); err != nil {
		t.Fatalf("Failed to write announce request: %v", err)
	}

	return readResponse(t, conn)
}

func TestServer(t *testing.T) {
	torrent := NewMemoryTorrent()
	torrent.AddPeer(protocol.PeerAddr{IP: net.IPv4(1, 2, 3, 4), Port: 12345}, true)

	server := &Server{
		Logger: zaptest.NewLogger(t),
		GetTorrent: func(infoHash protocol.InfoHash) (Torrent, error) {
			if infoHash != testInfoHash {
				return nil, ErrUnknownTorrent
			}
			return torrent, nil
		},
	}

	conn, err := net.DialUDP("udp4", nil, startTestServer(t, server))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	connectionId := connect(t, conn)
	reader := announce(t, conn, connectionId, testInfoHash)

	var responseHeader protocol.ResponseHeader
	if err := protocol.Unmarshal(reader, &responseHeader); err != nil {
		t.Fatalf("Failed to unmarshal announce response header: %v", err)
	}

	if responseHeader.Action != protocol.ActionAnnounce {
		t.Fatalf("Unexpected announce response action: %v", responseHeader.Action)
	}

	var announceResponse protocol.IPv4AnnounceResponse
	if err := protocol.Unmarshal(reader, &announceResponse); err != nil {
		t.Fatalf("Failed to unmarshal announce response: %v", err)
	}

	if announceResponse.Interval != defaultAnnounceInterval {
		t.Fatalf("Unexpected interval: %v", announceResponse.Interval)
	}

	// the announcing client is a leecher now
	if announceResponse.Leechers != 1 {
		t.Fatalf("Unexpected leechers: %v", announceResponse.Leechers)
	}

	if announceResponse.Seeders != 1 {
		t.Fatalf("Unexpected seeders: %v", announceResponse.Seeders)
	}

	rest := make([]byte, reader.Len())
	reader.Read(rest)

	var peers protocol.IPv4Peers
	if err := peers.UnmarshalBinary(rest); err != nil {
		t.Fatalf("Failed to unmarshal peers: %v", err)
	}

	if len(peers) != 1 || peers[0].String() != "1.2.3.4:12345" {
		t.Fatalf("Unexpected peers: %v", peers)
	}
}

func TestServerUnknownTorrent(t *testing.T) {
	server := &Server{
		Logger: zaptest.NewLogger(t),
		GetTorrent: func(infoHash protocol.InfoHash) (Torrent, error) {
			return nil, ErrUnknownTorrent
		},
	}

	conn, err := net.DialUDP("udp4", nil, startTestServer(t, server))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := announce(t, conn, connect(t, conn), testInfoHash)

	var responseHeader protocol.ResponseHeader
	if err := protocol.Unmarshal(reader, &responseHeader); err != nil {
		t.Fatalf("Failed to unmarshal response header: %v", err)
	}

	if responseHeader.Action != protocol.ActionError {
		t.Fatalf("Unexpected action: %v", responseHeader.Action)
	}

	message := make([]byte, reader.Len())
	reader.Read(message)

	if string(message) != ErrUnknownTorrent.Error() {
		t.Fatalf("Unexpected error message: %q", message)
	}
}

func TestServerRejectsUnknownConnection(t *testing.T) {
	server := &Server{
		Logger: zaptest.NewLogger(t),
		GetTorrent: func(infoHash protocol.InfoHash) (Torrent, error) {
			return NewMemoryTorrent(), nil
		},
	}

	conn, err := net.DialUDP("udp4", nil, startTestServer(t, server))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := announce(t, conn, 0x1234, testInfoHash)

	var responseHeader protocol.ResponseHeader
	if err := protocol.Unmarshal(reader, &responseHeader); err != nil {
		t.Fatalf("Failed to unmarshal response header: %v", err)
	}

	if responseHeader.Action != protocol.ActionError {
		t.Fatalf("Unexpected action: %v", responseHeader.Action)
	}
}

func TestServerCloseTwice(t *testing.T) {
	server := &Server{GetTorrent: func(protocol.InfoHash) (Torrent, error) { return nil, ErrUnknownTorrent }}

	if err := server.Close(); err != nil {
		t.Fatalf("First close returned error: %v", err)
	}

	if err := server.Close(); err == nil {
		t.Fatal("Second close did not return an error")
	}
}

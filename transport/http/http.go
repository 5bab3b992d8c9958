// Package http implements HTTP tracker announces (BEP 3, BEP 23 and BEP 7)
// as an announce.Transport.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"erri120/goannounce/announce"
	"erri120/goannounce/protocol"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/torrent/bencode"
	"go.uber.org/zap"
)

const maxResponseSize = 1 << 20

type Config struct {
	Logger *zap.Logger

	// Timeout applies to the whole request when Client is not set.
	Timeout time.Duration

	// Client overrides the HTTP client. It is not closed by the transport.
	Client *http.Client

	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Logger:  zap.NewNop(),
		Timeout: 15 * time.Second,
	}
}

type Transport struct {
	endpoint   *url.URL
	client     *http.Client
	ownsClient bool
	userAgent  string
	logger     *zap.Logger

	mu        sync.Mutex
	trackerId string
	closed    bool
}

var _ announce.Transport = (*Transport)(nil)

func New(endpoint *url.URL, config Config) (*Transport, error) {
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("Unsupported scheme %q for HTTP tracker", endpoint.Scheme)
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	transport := &Transport{
		endpoint:  endpoint,
		client:    config.Client,
		userAgent: config.UserAgent,
		logger:    config.Logger.With(zap.String("tracker", endpoint.Host)),
	}

	if transport.client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultConfig().Timeout
		}

		transport.client = &http.Client{Timeout: timeout}
		transport.ownsClient = true
	}

	return transport, nil
}

// BuildURL returns the announce URL for the request. Query parameters
// already present on the endpoint, like a passkey, are kept.
func (transport *Transport) BuildURL(request announce.Request) string {
	u := *transport.endpoint

	query := u.Query()
	query.Set("info_hash", string(request.InfoHash[:]))
	query.Set("peer_id", string(request.PeerId[:]))
	query.Set("port", strconv.Itoa(int(request.Port)))
	query.Set("uploaded", strconv.FormatInt(request.Uploaded, 10))
	query.Set("downloaded", strconv.FormatInt(request.Downloaded, 10))
	query.Set("left", strconv.FormatInt(request.Left, 10))
	query.Set("compact", "1")

	if event := request.Event.Param(); event != "" {
		query.Set("event", event)
	}

	if request.NumWant >= 0 {
		query.Set("numwant", strconv.Itoa(int(request.NumWant)))
	}

	if request.Key != 0 {
		query.Set("key", strconv.FormatUint(uint64(uint32(request.Key)), 16))
	}

	if request.IP != nil {
		query.Set("ip", request.IP.String())
	}

	transport.mu.Lock()
	if transport.trackerId != "" {
		query.Set("trackerid", transport.trackerId)
	}
	transport.mu.Unlock()

	u.RawQuery = query.Encode()
	return u.String()
}

// Call sends the announce and returns the bencoded body.
func (transport *Transport) Call(ctx context.Context, request announce.Request) ([]byte, error) {
	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()

	if closed {
		return nil, errors.New("HTTP transport is closed")
	}

	announceURL := transport.BuildURL(request)

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, announceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating tracker request: %w", err)
	}

	if transport.userAgent != "" {
		httpRequest.Header.Set("User-Agent", transport.userAgent)
	}

	resp, err := transport.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("contacting tracker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading tracker response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	transport.logger.Debug("Received tracker response", zap.Int("bytes", len(body)))
	return body, nil
}

// StatusError is returned for replies other than 200 OK.
type StatusError struct {
	StatusCode int
	Body       string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("tracker returned status %d", err.StatusCode)
}

type bencodeResponse struct {
	FailureReason  string        `bencode:"failure reason"`
	WarningMessage string        `bencode:"warning message"`
	Interval       int32         `bencode:"interval"`
	MinInterval    int32         `bencode:"min interval"`
	TrackerId      string        `bencode:"tracker id"`
	Complete       int32         `bencode:"complete"`
	Incomplete     int32         `bencode:"incomplete"`
	Peers          bencode.Bytes `bencode:"peers"`
	Peers6         bencode.Bytes `bencode:"peers6"`
	ExternalIP     string        `bencode:"external ip"`
}

type bencodePeer struct {
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

// Decode parses a bencoded tracker reply. The tracker id, if any, is sent
// back on the following announces.
func (transport *Transport) Decode(raw []byte) (protocol.Message, error) {
	message, trackerId, err := decode(raw)
	if err != nil {
		return nil, &announce.DecodeError{Err: err}
	}

	if trackerId != "" {
		transport.mu.Lock()
		transport.trackerId = trackerId
		transport.mu.Unlock()
	}

	return message, nil
}

func Decode(raw []byte) (protocol.Message, error) {
	message, _, err := decode(raw)
	return message, err
}

func decode(raw []byte) (protocol.Message, string, error) {
	var response bencodeResponse
	if err := bencode.Unmarshal(raw, &response); err != nil {
		return nil, "", fmt.Errorf("parsing tracker response: %w", err)
	}

	if response.FailureReason != "" {
		return &protocol.ErrorMessage{Reason: response.FailureReason}, "", nil
	}

	peers, err := decodePeers(response.Peers)
	if err != nil {
		return nil, "", err
	}

	if len(response.Peers6) > 0 {
		var compact string
		if err := bencode.Unmarshal(response.Peers6, &compact); err != nil {
			return nil, "", fmt.Errorf("parsing peers6: %w", err)
		}

		var addrs krpc.CompactIPv6NodeAddrs
		if err := addrs.UnmarshalBinary([]byte(compact)); err != nil {
			return nil, "", fmt.Errorf("parsing peers6: %w", err)
		}

		peers = appendNodeAddrs(peers, addrs)
	}

	message := &protocol.AnnounceMessage{
		Interval:    time.Duration(response.Interval) * time.Second,
		MinInterval: time.Duration(response.MinInterval) * time.Second,
		Seeders:     response.Complete,
		Leechers:    response.Incomplete,
		Peers:       peers,
		TrackerId:   response.TrackerId,
		Warning:     response.WarningMessage,
	}

	switch len(response.ExternalIP) {
	case net.IPv4len, net.IPv6len:
		message.ExternalIP = net.IP(response.ExternalIP)
	}

	return message, response.TrackerId, nil
}

// decodePeers handles both the compact string and the list of dictionaries.
func decodePeers(raw bencode.Bytes) ([]protocol.PeerAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == 'l' {
		var dictPeers []bencodePeer
		if err := bencode.Unmarshal(raw, &dictPeers); err != nil {
			return nil, fmt.Errorf("parsing peers: %w", err)
		}

		peers := make([]protocol.PeerAddr, 0, len(dictPeers))
		for _, peer := range dictPeers {
			ip := net.ParseIP(peer.IP)
			if ip == nil || peer.Port <= 0 || peer.Port > 65535 {
				continue
			}
			peers = append(peers, protocol.PeerAddr{IP: ip, Port: uint16(peer.Port)})
		}
		return peers, nil
	}

	var compact string
	if err := bencode.Unmarshal(raw, &compact); err != nil {
		return nil, fmt.Errorf("parsing peers: %w", err)
	}

	var addrs krpc.CompactIPv4NodeAddrs
	if err := addrs.UnmarshalBinary([]byte(compact)); err != nil {
		return nil, fmt.Errorf("parsing peers: %w", err)
	}

	return appendNodeAddrs(nil, addrs), nil
}

func appendNodeAddrs(peers []protocol.PeerAddr, addrs []krpc.NodeAddr) []protocol.PeerAddr {
	for _, addr := range addrs {
		peers = append(peers, protocol.PeerAddr{IP: addr.IP, Port: uint16(addr.Port)})
	}
	return peers
}

// Close drops idle keep-alive connections of the transport's own client.
func (transport *Transport) Close() error {
	transport.mu.Lock()
	defer transport.mu.Unlock()

	if transport.closed {
		return nil
	}

	transport.closed = true
	if transport.ownsClient {
		transport.client.CloseIdleConnections()
	}
	return nil
}

// Package announce drives the announce exchange with one tracker and hands
// the outcome to registered listeners. The wire protocol is left to a
// Transport.
package announce

import (
	"context"
	"errors"
	"io"
	"net/url"

	"erri120/goannounce/protocol"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Client announces one swarm session to one tracker. A Client must not be
// used by more than one goroutine at a time, except for Register.
type Client struct {
	session   Session
	identity  Identity
	endpoint  *url.URL
	transport Transport
	numWant   int32
	logger    *zap.Logger

	listeners registry
	closed    atomic.Bool
}

func New(session Session, identity Identity, endpoint *url.URL, transport Transport, config Config) (*Client, error) {
	if session == nil {
		return nil, errors.New("session must not be nil")
	}

	if endpoint == nil {
		return nil, errors.New("tracker endpoint must not be nil")
	}

	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	endpointCopy := *endpoint

	return &Client{
		session:   session,
		identity:  identity,
		endpoint:  &endpointCopy,
		transport: transport,
		numWant:   config.NumWant,
		logger: logger.With(
			zap.String("tracker", endpoint.Redacted()),
			zap.Stringer("infoHash", session.InfoHash()),
		),
	}, nil
}

// Register adds a listener. Registering the same listener again does nothing
// and nil listeners are ignored.
func (client *Client) Register(listener Listener) {
	if isNil(listener) {
		client.logger.Debug("Ignoring nil listener")
		return
	}

	if !client.listeners.add(listener) {
		client.logger.Debug("Listener is already registered")
	}
}

// Endpoint returns the tracker this client announces to.
func (client *Client) Endpoint() *url.URL {
	endpoint := *client.endpoint
	return &endpoint
}

func (client *Client) Session() Session {
	return client.session
}

func (client *Client) Identity() Identity {
	return client.identity
}

// Announce sends one announce for the given event and notifies every
// listener of the reply. Nothing is retried: transport and decode errors are
// returned unchanged, a tracker error becomes a *TrackerRejectedError and any
// reply other than an announce reply becomes a *ProtocolViolationError. In
// all these cases no listener is notified.
func (client *Client) Announce(ctx context.Context, event protocol.AnnounceEvent) error {
	if client.closed.Load() {
		return ErrClosed
	}

	request := Request{
		InfoHash:   client.session.InfoHash(),
		PeerId:     client.identity.PeerId,
		IP:         client.identity.IP,
		Port:       client.identity.Port,
		Key:        client.identity.Key,
		Uploaded:   client.session.Uploaded(),
		Downloaded: client.session.Downloaded(),
		Left:       client.session.Left(),
		Event:      event,
		NumWant:    client.numWant,
	}

	client.logger.Info("Announcing to tracker",
		zap.String("event", event.Label()),
		zap.Int64("uploaded", request.Uploaded),
		zap.Int64("downloaded", request.Downloaded),
		zap.Int64("left", request.Left),
	)

	raw, err := client.transport.Call(ctx, request)
	if err != nil {
		return err
	}

	message, err := client.transport.Decode(raw)
	if err != nil {
		return err
	}

	return client.handleMessage(message)
}

func (client *Client) handleMessage(message protocol.Message) error {
	if errorMessage, ok := message.(*protocol.ErrorMessage); ok && errorMessage != nil {
		return &TrackerRejectedError{Reason: errorMessage.Reason}
	}

	response, ok := message.(*protocol.AnnounceMessage)
	if !ok || response == nil {
		messageType := "<nil>"
		if message != nil {
			messageType = message.MessageType()
		}
		return &ProtocolViolationError{Type: messageType}
	}

	if response.Warning != "" {
		client.logger.Warn("Tracker sent a warning", zap.String("warning", response.Warning))
	}

	stats := Stats{
		Interval: response.Interval,
		Seeders:  response.Seeders,
		Leechers: response.Leechers,
	}

	client.logger.Debug("Tracker accepted announce",
		zap.Duration("interval", stats.Interval),
		zap.Int32("seeders", stats.Seeders),
		zap.Int32("leechers", stats.Leechers),
		zap.Int("peers", len(response.Peers)),
	)

	listeners := client.listeners.snapshot()

	for _, listener := range listeners {
		if err := listener.AnnounceStatistics(client.session, stats); err != nil {
			return &ListenerError{Err: err}
		}
	}

	for _, listener := range listeners {
		if err := listener.PeersDiscovered(client.session, response.Peers); err != nil {
			return &ListenerError{Err: err}
		}
	}

	return nil
}

// Close releases the resources held by the transport. Only the first call
// has an effect.
func (client *Client) Close() error {
	if !client.closed.CAS(false, true) {
		return nil
	}

	closer, ok := client.transport.(io.Closer)
	if !ok {
		return nil
	}

	return closer.Close()
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"erri120/goannounce/announce"
	"erri120/goannounce/listener/metrics"
	"erri120/goannounce/listener/peerstore"
	"erri120/goannounce/protocol"
	"erri120/goannounce/swarm"
	"erri120/goannounce/transport"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const peerIdPrefix = "-GA0001-"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type options struct {
	trackers   string
	infoHash   string
	port       uint
	uploaded   int64
	downloaded int64
	left       int64
	event      string
	numWant    int
	timeout    time.Duration
	debug      bool
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.trackers, "trackers", "", "comma separated tracker announce URLs")
	flag.StringVar(&opts.infoHash, "infohash", "", "hex encoded info hash")
	flag.UintVar(&opts.port, "port", 6881, "port the local peer listens on")
	flag.Int64Var(&opts.uploaded, "uploaded", 0, "bytes uploaded")
	flag.Int64Var(&opts.downloaded, "downloaded", 0, "bytes downloaded")
	flag.Int64Var(&opts.left, "left", 0, "bytes left")
	flag.StringVar(&opts.event, "event", "started", "announce event: none, started, stopped or completed")
	flag.IntVar(&opts.numWant, "numwant", -1, "number of peers wanted, -1 for the tracker default")
	flag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "timeout per tracker")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	flag.Parse()
	return opts
}

func parseEvent(s string) (protocol.AnnounceEvent, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return protocol.AnnounceEventNone, nil
	case "started":
		return protocol.AnnounceEventStarted, nil
	case "stopped":
		return protocol.AnnounceEventStopped, nil
	case "completed":
		return protocol.AnnounceEventCompleted, nil
	default:
		return 0, fmt.Errorf("Unknown event %q", s)
	}
}

func parseInfoHash(s string) (infoHash protocol.InfoHash, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return infoHash, fmt.Errorf("Invalid info hash: %w", err)
	}

	if len(b) != len(infoHash) {
		return infoHash, fmt.Errorf("Info hash must be %d bytes, got %d", len(infoHash), len(b))
	}

	copy(infoHash[:], b)
	return infoHash, nil
}

func newPeerId() (peerId protocol.PeerId, err error) {
	copy(peerId[:], peerIdPrefix)
	_, err = rand.Read(peerId[len(peerIdPrefix):])
	return
}

func newLogger(debug bool) *zap.Logger {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()), os.Stdout, level)
	return zap.New(core)
}

func run() error {
	opts := parseFlags()

	logger := newLogger(opts.debug)
	defer logger.Sync()

	if opts.trackers == "" {
		return fmt.Errorf("No trackers given")
	}

	infoHash, err := parseInfoHash(opts.infoHash)
	if err != nil {
		return err
	}

	event, err := parseEvent(opts.event)
	if err != nil {
		return err
	}

	peerId, err := newPeerId()
	if err != nil {
		return err
	}

	session := swarm.New(infoHash, opts.left)
	session.AddUploaded(opts.uploaded)
	session.AddDownloaded(opts.downloaded)
	session.SetLeft(opts.left)

	identity := announce.Identity{PeerId: peerId, Port: uint16(opts.port)}

	peers, err := peerstore.New(peerstore.DefaultCapacity, logger)
	if err != nil {
		return err
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	var clients []*announce.Client
	defer func() {
		var closeErr error
		for _, client := range clients {
			closeErr = multierr.Append(closeErr, client.Close())
		}

		if closeErr != nil {
			logger.Warn("Unable to close clients", zap.Error(closeErr))
		}
	}()

	for _, rawURL := range strings.Split(opts.trackers, ",") {
		endpoint, err := url.Parse(strings.TrimSpace(rawURL))
		if err != nil {
			return fmt.Errorf("Invalid tracker URL %q: %w", rawURL, err)
		}

		tr, err := transport.New(endpoint, transport.Config{
			Logger:  logger,
			Timeout: opts.timeout,
		})
		if err != nil {
			return err
		}

		client, err := announce.New(session, identity, endpoint, tr, announce.Config{
			Logger:  logger,
			NumWant: int32(opts.numWant),
		})
		if err != nil {
			return err
		}

		client.Register(peers)
		client.Register(m.Listener(endpoint.Redacted()))
		client.Register(&announce.ListenerFuncs{
			OnStats: func(session announce.Session, stats announce.Stats) error {
				logger.Info("Tracker replied",
					zap.String("tracker", endpoint.Redacted()),
					zap.Duration("interval", stats.Interval),
					zap.Int32("seeders", stats.Seeders),
					zap.Int32("leechers", stats.Leechers),
				)
				return nil
			},
		})

		clients = append(clients, client)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var mu sync.Mutex
	var announceErr error

	// one goroutine per tracker, each client is only used by its own goroutine
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client *announce.Client) {
			defer wg.Done()

			err := client.Announce(ctx, event)
			if err == nil {
				return
			}

			tracker := client.Endpoint().Redacted()
			m.ObserveError(tracker, err)
			logger.Error("Announce failed",
				zap.String("tracker", tracker),
				zap.String("reason", metrics.Reason(err)),
				zap.Error(err),
			)

			mu.Lock()
			announceErr = multierr.Append(announceErr, fmt.Errorf("%s: %w", tracker, err))
			mu.Unlock()
		}(client)
	}
	wg.Wait()

	for {
		peer, ok := peers.Next()
		if !ok {
			break
		}
		fmt.Println(peer.String())
	}

	if len(multierr.Errors(announceErr)) == len(clients) {
		return announceErr
	}

	return nil
}

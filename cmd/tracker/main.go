package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"erri120/goannounce/protocol"
	"erri120/goannounce/server"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type torrents struct {
	mu       sync.Mutex
	open     bool
	torrents map[protocol.InfoHash]*server.MemoryTorrent
}

func (t *torrents) get(infoHash protocol.InfoHash) (server.Torrent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	torrent, ok := t.torrents[infoHash]
	if ok {
		return torrent, nil
	}

	if !t.open {
		return nil, server.ErrUnknownTorrent
	}

	torrent = server.NewMemoryTorrent()
	t.torrents[infoHash] = torrent
	return torrent, nil
}

func run() error {
	host := flag.String("host", "0.0.0.0", "host to listen on")
	port := flag.Int("port", 9000, "port to listen on")
	interval := flag.Int("interval", 900, "announce interval in seconds")
	infoHashes := flag.String("infohashes", "", "comma separated hex info hashes to track, empty tracks every torrent")
	debug := flag.Bool("debug", false, "enable debug logging")

	flag.Parse()

	ip := net.ParseIP(*host)
	if ip == nil {
		return fmt.Errorf("Invalid host %q", *host)
	}

	level := zap.InfoLevel
	if *debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()), os.Stdout, level)
	logger := zap.New(core).With(zap.String("name", "tracker"))

	defer logger.Sync()

	registry := &torrents{
		open:     *infoHashes == "",
		torrents: make(map[protocol.InfoHash]*server.MemoryTorrent),
	}

	if *infoHashes != "" {
		for _, s := range strings.Split(*infoHashes, ",") {
			b, err := hex.DecodeString(strings.TrimSpace(s))
			if err != nil || len(b) != len(protocol.InfoHash{}) {
				return fmt.Errorf("Invalid info hash %q", s)
			}

			var infoHash protocol.InfoHash
			copy(infoHash[:], b)
			registry.torrents[infoHash] = server.NewMemoryTorrent()
		}
	}

	srv := &server.Server{
		Logger:     logger,
		GetTorrent: registry.get,
		Interval:   int32(*interval),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go srv.StartCleanup(ctx, time.Minute)

	go func() {
		<-ctx.Done()
		if err := srv.Close(); err != nil {
			logger.Warn("Unable to close server", zap.Error(err))
		}
	}()

	logger.Info("Listening", zap.String("host", *host), zap.Int("port", *port))
	return srv.Listen(&net.UDPAddr{IP: ip, Port: *port})
}

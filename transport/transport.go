// Package transport picks the announce.Transport for a tracker URL.
package transport

import (
	"fmt"
	"net/url"
	"time"

	"erri120/goannounce/announce"
	httptransport "erri120/goannounce/transport/http"
	udptransport "erri120/goannounce/transport/udp"

	"go.uber.org/zap"
)

type Config struct {
	Logger    *zap.Logger
	Timeout   time.Duration
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Logger:  zap.NewNop(),
		Timeout: 15 * time.Second,
	}
}

// New returns a UDP transport for udp:// endpoints and an HTTP transport for
// http:// and https:// endpoints.
func New(endpoint *url.URL, config Config) (announce.Transport, error) {
	switch endpoint.Scheme {
	case "udp":
		udpConfig := udptransport.DefaultConfig()
		udpConfig.Timeout = config.Timeout
		if config.Logger != nil {
			udpConfig.Logger = config.Logger
		}
		udp, err := udptransport.New(endpoint, udpConfig)
		if err != nil {
			return nil, err
		}
		return udp, nil
	case "http", "https":
		httpConfig := httptransport.DefaultConfig()
		httpConfig.Timeout = config.Timeout
		httpConfig.UserAgent = config.UserAgent
		if config.Logger != nil {
			httpConfig.Logger = config.Logger
		}
		http, err := httptransport.New(endpoint, httpConfig)
		if err != nil {
			return nil, err
		}
		return http, nil
	default:
		return nil, fmt.Errorf("Unsupported tracker scheme %q", endpoint.Scheme)
	}
}

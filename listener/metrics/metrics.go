// Package metrics exports announce outcomes as Prometheus metrics.
package metrics

import (
	"errors"

	"erri120/goannounce/announce"
	"erri120/goannounce/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const namespace = "announce"

type Metrics struct {
	seeders   *prometheus.GaugeVec
	leechers  *prometheus.GaugeVec
	interval  *prometheus.GaugeVec
	peers     *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) (*Metrics, error) {
	labels := []string{"tracker", "info_hash"}

	m := &Metrics{
		seeders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seeders",
			Help:      "Seeders reported by the tracker.",
		}, labels),
		leechers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leechers",
			Help:      "Leechers reported by the tracker.",
		}, labels),
		interval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interval_seconds",
			Help:      "Announce interval requested by the tracker.",
		}, labels),
		peers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_discovered_total",
			Help:      "Peers received from the tracker.",
		}, labels),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "success_total",
			Help:      "Announces accepted by the tracker.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed announces by reason.",
		}, []string{"tracker", "reason"}),
	}

	err := multierr.Combine(
		registerer.Register(m.seeders),
		registerer.Register(m.leechers),
		registerer.Register(m.interval),
		registerer.Register(m.peers),
		registerer.Register(m.successes),
		registerer.Register(m.failures),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Listener returns the listener to register on the client for tracker.
func (m *Metrics) Listener(tracker string) *Listener {
	return &Listener{metrics: m, tracker: tracker}
}

// ObserveError counts a failed announce.
func (m *Metrics) ObserveError(tracker string, err error) {
	if err == nil {
		return
	}
	m.failures.WithLabelValues(tracker, Reason(err)).Inc()
}

// Reason classifies an announce error for the failures metric.
func Reason(err error) string {
	var rejected *announce.TrackerRejectedError
	var violation *announce.ProtocolViolationError
	var listener *announce.ListenerError
	var decode *announce.DecodeError

	switch {
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &violation):
		return "protocol"
	case errors.As(err, &listener):
		return "listener"
	case errors.As(err, &decode):
		return "decode"
	case errors.Is(err, announce.ErrClosed):
		return "closed"
	default:
		return "transport"
	}
}

type Listener struct {
	metrics *Metrics
	tracker string
}

var _ announce.Listener = (*Listener)(nil)

func (l *Listener) AnnounceStatistics(session announce.Session, stats announce.Stats) error {
	infoHash := session.InfoHash().String()

	l.metrics.seeders.WithLabelValues(l.tracker, infoHash).Set(float64(stats.Seeders))
	l.metrics.leechers.WithLabelValues(l.tracker, infoHash).Set(float64(stats.Leechers))
	l.metrics.interval.WithLabelValues(l.tracker, infoHash).Set(stats.Interval.Seconds())
	l.metrics.successes.WithLabelValues(l.tracker, infoHash).Inc()
	return nil
}

func (l *Listener) PeersDiscovered(session announce.Session, peers []protocol.PeerAddr) error {
	l.metrics.peers.WithLabelValues(l.tracker, session.InfoHash().String()).Add(float64(len(peers)))
	return nil
}

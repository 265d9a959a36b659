package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Gossip event labels.
const (
	GossipReceived  = "received"
	GossipDuplicate = "duplicate"
	GossipInvalid   = "invalid"
	GossipRelayed   = "relayed"
	GossipDropped   = "dropped"
	GossipSendError = "send_error"
)

// Metrics owns a private registry so several gateways can live in one
// process (tests). All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	queries         *prometheus.CounterVec
	errors          *prometheus.CounterVec
	resolveLatency  prometheus.Histogram
	upstreamLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	gossip          *prometheus.CounterVec
	deployments     prometheus.Gauge
	peers           prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries handled per deployment and outcome.",
		}, []string{"deployment_id", "outcome"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Request errors by kind.",
		}, []string{"kind"}),
		resolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a deployment to an endpoint.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Backend round trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token issuance attempts by outcome.",
		}, []string{"outcome"}),
		gossip: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_messages_total",
			Help:      "Overlay gossip messages by event.",
		}, []string{"event"}),
		deployments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_deployments",
			Help:      "Deployments with at least one healthy endpoint.",
		}),
		peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alive_peers",
			Help:      "Mesh peers heard from within the liveness timeout.",
		}),
	}
}

func (m *Metrics) ObserveQuery(deploymentID, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(deploymentID, outcome).Inc()
}

func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolveLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveUpstream(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveToken(outcome string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Gossip(event string) {
	if m == nil {
		return
	}
	m.gossip.WithLabelValues(event).Inc()
}

func (m *Metrics) SetDeployments(n int) {
	if m == nil {
		return
	}
	m.deployments.Set(float64(n))
}

func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

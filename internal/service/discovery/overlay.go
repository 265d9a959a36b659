package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"query_gateway/internal/cryptographic/kdf"
	"query_gateway/internal/model"
	"query_gateway/internal/service/metrics"
	"query_gateway/internal/utils/log"

	pond "github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type Config struct {
	Secret []byte

	Fanout    int
	MaxHops   int
	InboxSize int
	Workers   int

	HeartbeatInterval  time.Duration
	ReannounceInterval time.Duration
	LivenessTimeout    time.Duration
	StaleAfter         time.Duration
	SweepInterval      time.Duration
	SendTimeout        time.Duration

	// BloomExpected and BloomFalsePositive size the dedup filter. A false
	// positive only costs an exact state lookup, it never drops a message
	// the node has not applied.
	BloomExpected      uint
	BloomFalsePositive float64
	BloomRotate        time.Duration

	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.Fanout <= 0 {
		c.Fanout = 6
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 4
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 32
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ReannounceInterval <= 0 {
		c.ReannounceInterval = 30 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 45 * time.Second
	}
	if c.StaleAfter < c.LivenessTimeout {
		c.StaleAfter = 5 * c.LivenessTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 3 * time.Second
	}
	if c.BloomExpected == 0 {
		c.BloomExpected = 100000
	}
	if c.BloomFalsePositive <= 0 || c.BloomFalsePositive >= 1 {
		c.BloomFalsePositive = 0.01
	}
	if c.BloomRotate <= 0 {
		c.BloomRotate = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type inbound struct {
	from string
	data []byte
}

type peerClock struct {
	lastTS atomic.Int64 // newest origin timestamp (ms) applied from this peer
	heard  atomic.Int64 // local receipt time (unix nanos)
}

// Overlay maintains deployment -> endpoint records for this node and keeps
// them converged with the rest of the mesh through gossip.
type Overlay struct {
	cfg       Config
	self      string
	transport Transport
	fullMesh  bool
	signer    signer
	metrics   *metrics.Metrics

	records *xsync.Map[string, *record]
	clocks  *xsync.Map[string, *peerClock]
	served  *xsync.Map[string, string]
	seen    *seenFilter
	events  eventBus

	inbox   chan inbound
	pool    pond.Pool
	pending atomic.Int64
	lastTS  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// sendCtx outlives ctx so sends queued during shutdown, such as the
	// final withdrawals, still reach the transport.
	sendCtx    context.Context
	sendCancel context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

func New(cfg Config, transport Transport, m *metrics.Metrics) (*Overlay, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("overlay: empty secret")
	}
	cfg.setDefaults()
	key, err := kdf.DeriveKey(cfg.Secret, kdf.InfoAnnounce)
	if err != nil {
		return nil, fmt.Errorf("overlay: derive key: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Overlay{
		cfg:       cfg,
		self:      transport.LocalID(),
		transport: transport,
		signer:    signer{key: key},
		metrics:   m,
		records:   xsync.NewMap[string, *record](),
		clocks:    xsync.NewMap[string, *peerClock](),
		served:    xsync.NewMap[string, string](),
		seen:      newSeenFilter(cfg.BloomExpected, cfg.BloomFalsePositive),
		inbox:     make(chan inbound, cfg.InboxSize),
		pool:      pond.NewPool(cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
	o.sendCtx, o.sendCancel = context.WithCancel(context.Background())
	if fm, ok := transport.(FullMesh); ok {
		o.fullMesh = fm.FullMesh()
	}
	transport.SetHandler(o.enqueue)
	return o, nil
}

func (o *Overlay) Name() string { return "overlay" }

func (o *Overlay) LocalID() string { return o.self }

func (o *Overlay) Start(ctx context.Context) error {
	context.AfterFunc(ctx, o.cancel)

	o.wg.Add(2)
	go o.consume()
	go o.maintain()

	o.heartbeat()
	log.Info("overlay started", zap.String("peer_id", o.self), zap.Int("peers", len(o.transport.Peers())))
	return nil
}

func (o *Overlay) Stop() error {
	o.stopOnce.Do(func() {
		o.cancel()
		o.wg.Wait()
		o.pool.StopAndWait()
		o.sendCancel()
	})
	return nil
}

// Announce records that this node serves deploymentID at endpoint and tells
// the mesh. The deployment is re-announced until Withdraw.
func (o *Overlay) Announce(ctx context.Context, deploymentID, endpoint string) error {
	if deploymentID == "" {
		return fmt.Errorf("%w: empty deployment id", model.ErrMalformedInput)
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q", model.ErrMalformedInput, endpoint)
	}
	o.served.Store(deploymentID, endpoint)
	o.announce(ctx, deploymentID, endpoint)
	return nil
}

func (o *Overlay) announce(ctx context.Context, deploymentID, endpoint string) {
	now := o.cfg.Now()
	ts := o.nextTimestamp(now)
	rec, _ := o.records.LoadOrCompute(deploymentID, func() (*record, bool) { return newRecord(), false })
	rec.apply(o.self, endpoint, time.UnixMilli(ts), now, true)

	o.events.publish(Event{Kind: EventAnnounce, DeploymentID: deploymentID, PeerID: o.self, Endpoint: endpoint, Time: now})
	o.originate(ctx, &model.AnnouncementMessage{
		Type:         model.MessageAnnounce,
		Origin:       o.self,
		DeploymentID: deploymentID,
		Endpoint:     endpoint,
		Timestamp:    ts,
	})
}

// Withdraw stops serving deploymentID from this node.
func (o *Overlay) Withdraw(ctx context.Context, deploymentID string) error {
	if _, ok := o.served.LoadAndDelete(deploymentID); !ok {
		return fmt.Errorf("%w: %s is not served here", model.ErrUnknownDeployment, deploymentID)
	}
	now := o.cfg.Now()
	ts := o.nextTimestamp(now)
	if rec, ok := o.records.Load(deploymentID); ok {
		rec.withdraw(o.self, time.UnixMilli(ts), now)
	}
	o.events.publish(Event{Kind: EventWithdraw, DeploymentID: deploymentID, PeerID: o.self, Time: now})
	o.originate(ctx, &model.AnnouncementMessage{
		Type:         model.MessageWithdraw,
		Origin:       o.self,
		DeploymentID: deploymentID,
		Timestamp:    ts,
	})
	return nil
}

func (o *Overlay) Resolve(deploymentID string) (model.Endpoint, error) {
	c := o.Candidates(deploymentID)
	if len(c) == 0 {
		return model.Endpoint{}, fmt.Errorf("%w: %s", model.ErrUnknownDeployment, deploymentID)
	}
	return c[0], nil
}

// Candidates lists healthy endpoints for deploymentID in preference order.
func (o *Overlay) Candidates(deploymentID string) []model.Endpoint {
	start := time.Now()
	defer func() { o.metrics.ObserveResolve(time.Since(start)) }()

	rec, ok := o.records.Load(deploymentID)
	if !ok {
		return nil
	}
	return rec.candidates()
}

// ReportFailure takes one endpoint out of rotation until its next
// announcement.
func (o *Overlay) ReportFailure(deploymentID, peerID string) {
	rec, ok := o.records.Load(deploymentID)
	if !ok {
		return
	}
	if rec.markFailed(peerID) {
		log.Warn("endpoint marked unhealthy", zap.String("deployment_id", deploymentID), zap.String("peer_id", peerID))
	}
}

func (o *Overlay) Deployments() []model.DeploymentRecord {
	var out []model.DeploymentRecord
	o.records.Range(func(id string, rec *record) bool {
		if peers := rec.snapshot(); len(peers) > 0 {
			out = append(out, model.DeploymentRecord{DeploymentID: id, Peers: peers})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentID < out[j].DeploymentID })
	return out
}

func (o *Overlay) Peers() []model.PeerStatus {
	now := o.cfg.Now()
	var out []model.PeerStatus
	o.clocks.Range(func(id string, c *peerClock) bool {
		heard := time.Unix(0, c.heard.Load())
		out = append(out, model.PeerStatus{
			PeerID:    id,
			LastHeard: heard,
			Alive:     now.Sub(heard) <= o.cfg.LivenessTimeout,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (o *Overlay) Subscribe() (<-chan Event, func()) {
	return o.events.subscribe(64)
}

// Connect dials a peer when the transport supports addressing.
func (o *Overlay) Connect(ctx context.Context, addr string) error {
	c, ok := o.transport.(Connector)
	if !ok {
		return fmt.Errorf("%w: transport cannot dial addresses", model.ErrMalformedInput)
	}
	return c.Connect(ctx, addr)
}

// nextTimestamp returns a strictly increasing unix-millis value so two
// local messages never compare equal.
func (o *Overlay) nextTimestamp(now time.Time) int64 {
	ts := now.UnixMilli()
	for {
		last := o.lastTS.Load()
		if ts <= last {
			ts = last + 1
		}
		if o.lastTS.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

package discovery

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"query_gateway/internal/model"
	"query_gateway/internal/service/metrics"
	"query_gateway/internal/utils/log"

	"go.uber.org/zap"
)

// enqueue is the transport callback. It never blocks; a full inbox drops
// the frame and the next re-announcement repairs the gap.
func (o *Overlay) enqueue(from string, data []byte) {
	select {
	case o.inbox <- inbound{from: from, data: data}:
	default:
		o.metrics.Gossip(metrics.GossipDropped)
		log.Debug("gossip inbox full, dropping frame", zap.String("from", from))
	}
}

// consume is the single writer for inbound gossip.
func (o *Overlay) consume() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case in := <-o.inbox:
			o.handle(in)
		}
	}
}

func (o *Overlay) handle(in inbound) {
	msg, err := decodeMessage(in.data)
	if err != nil {
		o.metrics.Gossip(metrics.GossipInvalid)
		log.Debug("discarding gossip frame", zap.String("from", in.from), zap.Error(err))
		return
	}
	if msg.Origin == o.self {
		return
	}
	o.metrics.Gossip(metrics.GossipReceived)

	// A filter hit is only trusted once state confirms it.
	if o.seen.testAndAdd(digest(msg)) && o.applied(msg) {
		o.metrics.Gossip(metrics.GossipDuplicate)
		return
	}
	if !o.signer.verify(msg) {
		o.metrics.Gossip(metrics.GossipInvalid)
		log.Warn("gossip signature mismatch", zap.String("from", in.from), zap.String("origin", msg.Origin))
		return
	}

	if !o.apply(msg) {
		o.metrics.Gossip(metrics.GossipDuplicate)
		return
	}
	if msg.Hops > 0 && !o.fullMesh {
		relay := *msg
		relay.Hops--
		o.broadcast(&relay, in.from, msg.Origin)
	}
}

func (o *Overlay) applied(msg *model.AnnouncementMessage) bool {
	ts := time.UnixMilli(msg.Timestamp)
	if msg.Type == model.MessageHeartbeat {
		c, ok := o.clocks.Load(msg.Origin)
		return ok && c.lastTS.Load() >= msg.Timestamp
	}
	rec, ok := o.records.Load(msg.DeploymentID)
	return ok && rec.applied(msg.Origin, ts)
}

// apply folds msg into local state and reports whether anything changed.
func (o *Overlay) apply(msg *model.AnnouncementMessage) bool {
	now := o.cfg.Now()
	ts := time.UnixMilli(msg.Timestamp)

	c, _ := o.clocks.LoadOrCompute(msg.Origin, func() (*peerClock, bool) { return &peerClock{}, false })

	changed := false
	switch msg.Type {
	case model.MessageHeartbeat:
		changed = advance(&c.lastTS, msg.Timestamp)
	case model.MessageAnnounce:
		rec, _ := o.records.LoadOrCompute(msg.DeploymentID, func() (*record, bool) { return newRecord(), false })
		changed = rec.apply(msg.Origin, msg.Endpoint, ts, now, false)
		if changed {
			advance(&c.lastTS, msg.Timestamp)
			o.events.publish(Event{Kind: EventAnnounce, DeploymentID: msg.DeploymentID, PeerID: msg.Origin, Endpoint: msg.Endpoint, Time: now})
			log.Debug("announcement applied",
				zap.String("deployment_id", msg.DeploymentID),
				zap.String("origin", msg.Origin),
				zap.String("endpoint", msg.Endpoint))
		}
	case model.MessageWithdraw:
		rec, _ := o.records.LoadOrCompute(msg.DeploymentID, func() (*record, bool) { return newRecord(), false })
		changed = rec.withdraw(msg.Origin, ts, now)
		if changed {
			advance(&c.lastTS, msg.Timestamp)
			o.events.publish(Event{Kind: EventWithdraw, DeploymentID: msg.DeploymentID, PeerID: msg.Origin, Time: now})
		}
	}
	if changed {
		advance(&c.heard, now.UnixNano())
	}
	return changed
}

// advance moves v forward to `to` and reports whether it did.
func advance(v *atomic.Int64, to int64) bool {
	for {
		cur := v.Load()
		if to <= cur {
			return false
		}
		if v.CompareAndSwap(cur, to) {
			return true
		}
	}
}

// originate signs a locally created message and pushes it to the mesh.
func (o *Overlay) originate(ctx context.Context, msg *model.AnnouncementMessage) {
	msg.Hops = o.cfg.MaxHops
	o.signer.sign(msg)
	o.seen.add(digest(msg))
	if err := ctx.Err(); err != nil {
		return
	}
	o.broadcast(msg)
}

// broadcast sends msg to up to Fanout random peers, skipping exclude.
func (o *Overlay) broadcast(msg *model.AnnouncementMessage, exclude ...string) {
	data, err := encodeMessage(msg)
	if err != nil {
		log.Error("encode gossip message failed", zap.Error(err))
		return
	}

	peers := slices.DeleteFunc(o.transport.Peers(), func(p string) bool {
		return p == o.self || slices.Contains(exclude, p)
	})
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > o.cfg.Fanout {
		peers = peers[:o.cfg.Fanout]
	}

	limit := int64(o.cfg.Workers * 16)
	for _, p := range peers {
		if o.pending.Add(1) > limit {
			o.pending.Add(-1)
			o.metrics.Gossip(metrics.GossipDropped)
			continue
		}
		o.pool.Submit(func() {
			defer o.pending.Add(-1)
			ctx, cancel := context.WithTimeout(o.sendCtx, o.cfg.SendTimeout)
			defer cancel()
			if err := o.transport.Send(ctx, p, data); err != nil {
				o.metrics.Gossip(metrics.GossipSendError)
				log.Debug("gossip send failed", zap.String("peer", p), zap.Error(err))
				return
			}
			o.metrics.Gossip(metrics.GossipRelayed)
		})
	}
}

func (o *Overlay) heartbeat() {
	o.originate(o.ctx, &model.AnnouncementMessage{
		Type:      model.MessageHeartbeat,
		Origin:    o.self,
		Timestamp: o.nextTimestamp(o.cfg.Now()),
	})
}

func (o *Overlay) reannounce() {
	o.served.Range(func(id, endpoint string) bool {
		o.announce(o.ctx, id, endpoint)
		return true
	})
}

// maintain owns every overlay timer so none of them depend on request
// traffic.
func (o *Overlay) maintain() {
	defer o.wg.Done()

	heartbeat := time.NewTicker(o.cfg.HeartbeatInterval)
	reannounce := time.NewTicker(o.cfg.ReannounceInterval)
	sweep := time.NewTicker(o.cfg.SweepInterval)
	rotate := time.NewTicker(o.cfg.BloomRotate)
	defer heartbeat.Stop()
	defer reannounce.Stop()
	defer sweep.Stop()
	defer rotate.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-heartbeat.C:
			o.heartbeat()
		case <-reannounce.C:
			o.reannounce()
		case <-sweep.C:
			o.sweep()
		case <-rotate.C:
			o.seen.rotate()
		}
	}
}

func (o *Overlay) sweep() {
	now := o.cfg.Now()
	heard := func(peerID string) time.Time {
		if c, ok := o.clocks.Load(peerID); ok {
			return time.Unix(0, c.heard.Load())
		}
		return time.Time{}
	}

	known := 0
	o.records.Range(func(id string, rec *record) bool {
		res := rec.sweep(now, o.cfg.LivenessTimeout, o.cfg.StaleAfter, heard)
		for _, p := range res.suspected {
			log.Info("peer silent, endpoint suspended", zap.String("deployment_id", id), zap.String("peer_id", p))
			o.events.publish(Event{Kind: EventSuspect, DeploymentID: id, PeerID: p, Time: now})
		}
		for _, p := range res.evicted {
			log.Info("stale endpoint evicted", zap.String("deployment_id", id), zap.String("peer_id", p))
			o.events.publish(Event{Kind: EventEvict, DeploymentID: id, PeerID: p, Time: now})
		}
		if len(rec.candidates()) > 0 {
			known++
		}
		return true
	})

	alive := 0
	o.clocks.Range(func(id string, c *peerClock) bool {
		silent := now.Sub(time.Unix(0, c.heard.Load()))
		switch {
		case silent > o.cfg.StaleAfter:
			o.clocks.Delete(id)
		case silent <= o.cfg.LivenessTimeout:
			alive++
		}
		return true
	})

	o.metrics.SetDeployments(known)
	o.metrics.SetPeers(alive)
}

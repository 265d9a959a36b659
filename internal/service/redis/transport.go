package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"query_gateway/internal/service/discovery"
	"query_gateway/internal/utils/log"

	"go.uber.org/zap"
)

const backlogSize = 1024

type envelope struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// Transport carries overlay gossip over one Redis Pub/Sub channel. Every
// frame is also kept in a short capped backlog so a node that starts late
// can replay the current mesh state instead of waiting for re-announcements.
type Transport struct {
	svc     *RedisService
	channel string
	id      string
	ttl     time.Duration
	handler atomic.Pointer[discovery.HandlerFunc]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTransport(svc *RedisService, channel, nodeID string, backlogTTL time.Duration) *Transport {
	return &Transport{svc: svc, channel: channel, id: nodeID, ttl: backlogTTL}
}

func (t *Transport) Name() string { return "redis-transport" }

func (t *Transport) LocalID() string { return t.id }

func (t *Transport) FullMesh() bool { return true }

func (t *Transport) backlogKey() string { return t.channel + ":backlog" }

// Peers returns the channel itself: one send reaches every subscriber.
func (t *Transport) Peers() []string {
	return []string{"redis:" + t.channel}
}

func (t *Transport) SetHandler(h discovery.HandlerFunc) {
	t.handler.Store(&h)
}

func (t *Transport) Send(ctx context.Context, _ string, data []byte) error {
	frame, err := encodeEnvelope(t.id, data)
	if err != nil {
		return err
	}
	if err := t.svc.Publish(ctx, t.channel, frame); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := t.svc.Append(ctx, t.backlogKey(), frame, backlogSize, t.ttl); err != nil {
		log.Debug("gossip backlog append failed", zap.Error(err))
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)

	ps := t.svc.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	backlog, err := t.svc.LRange(ctx, t.backlogKey())
	if err != nil {
		log.Warn("gossip backlog unavailable", zap.Error(err))
	}
	for _, frame := range backlog {
		t.deliver([]byte(frame))
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				t.deliver([]byte(m.Payload))
			}
		}
	}()
	log.Info("redis gossip transport subscribed", zap.String("channel", t.channel), zap.Int("backlog", len(backlog)))
	return nil
}

func (t *Transport) deliver(frame []byte) {
	from, data, err := decodeEnvelope(frame)
	if err != nil {
		log.Debug("bad redis gossip frame", zap.Error(err))
		return
	}
	if from == t.id {
		return
	}
	if h := t.handler.Load(); h != nil {
		(*h)(from, data)
	}
}

func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

func encodeEnvelope(from string, data []byte) ([]byte, error) {
	return json.Marshal(envelope{From: from, Data: data})
}

func decodeEnvelope(frame []byte) (string, []byte, error) {
	var e envelope
	if err := json.Unmarshal(frame, &e); err != nil {
		return "", nil, err
	}
	if e.From == "" || len(e.Data) == 0 {
		return "", nil, fmt.Errorf("incomplete envelope")
	}
	return e.From, e.Data, nil
}

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := encodeEnvelope("node-a", []byte(`{"type":"heartbeat","origin":"node-a","timestamp":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	from, data, err := decodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if from != "node-a" || string(data) != `{"type":"heartbeat","origin":"node-a","timestamp":1}` {
		t.Fatalf("got %s %s", from, data)
	}

	if _, _, err := decodeEnvelope([]byte(`{"from":"node-a"}`)); err == nil {
		t.Fatalf("envelope without data accepted")
	}
}

func TestDeliverSkipsOwnFrames(t *testing.T) {
	tr := NewTransport(nil, "gossip", "node-a", time.Minute)
	var got []string
	tr.SetHandler(func(from string, _ []byte) { got = append(got, from) })

	own, _ := encodeEnvelope("node-a", []byte(`{}`))
	other, _ := encodeEnvelope("node-b", []byte(`{}`))
	tr.deliver(own)
	tr.deliver(other)

	if len(got) != 1 || got[0] != "node-b" {
		t.Fatalf("delivered from %v", got)
	}
}

// Needs a live server: REDIS_ADDR=localhost:6379 go test ./internal/service/redis
func TestPubSubBetweenTransports(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	svc := NewRedis(rdb)
	defer svc.Close()
	ctx := context.Background()
	channel := "gateway-test-" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, channel+":backlog")

	a := NewTransport(svc, channel, "node-a", time.Minute)
	b := NewTransport(svc, channel, "node-b", time.Minute)
	got := make(chan string, 1)
	b.SetHandler(func(from string, data []byte) { got <- from + " " + string(data) })
	a.SetHandler(func(string, []byte) {})

	for _, tr := range []*Transport{a, b} {
		if err := tr.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer tr.Stop()
	}

	if err := a.Send(ctx, a.Peers()[0], []byte(`{"hello":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if msg != `node-a {"hello":1}` {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("frame not received")
	}
}

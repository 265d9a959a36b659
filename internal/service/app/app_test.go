package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"query_gateway/internal/cryptographic/signature"
	"query_gateway/internal/model"
	"query_gateway/internal/service/discovery"
	"query_gateway/internal/service/proxy"
	"query_gateway/internal/service/server"
	"query_gateway/internal/service/token"
)

const metadataReply = `{"data":{"_metadata":{"chain":"Polkadot"}}}`

func newGateway(t *testing.T) (string, *discovery.Overlay) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, metadataReply)
	}))
	t.Cleanup(backend.Close)

	overlay, err := discovery.New(discovery.Config{Secret: []byte("mesh")}, discovery.NewMemoryNetwork().Join("gw"), nil)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if err := overlay.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { overlay.Stop() })
	if err := overlay.Announce(context.Background(), "Qm123", backend.URL); err != nil {
		t.Fatalf("announce: %v", err)
	}

	tokens, err := token.NewService(token.Config{Secret: []byte("secret"), TTL: time.Hour, Freshness: 2 * time.Minute})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	pipeline := proxy.NewPipeline(proxy.Config{Timeout: 2 * time.Second}, tokens, overlay, nil)
	srv := httptest.NewServer(server.NewHttpServer(server.Config{AdminEnabled: true}, tokens, overlay, pipeline, nil).Handler())
	t.Cleanup(srv.Close)
	return srv.URL, overlay
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	key, _, err := signature.NewSecp256k1Keypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	c, err := NewClient(url, key)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestClientAgainstGateway(t *testing.T) {
	url, _ := newGateway(t)
	c := newClient(t, url)
	ctx := context.Background()

	res, err := c.Discover(ctx, "Qm123")
	if err != nil || res.URI != "/query/Qm123" {
		t.Fatalf("discover %+v %v", res, err)
	}

	meta, err := c.Metadata(ctx, "Qm123")
	if err != nil || string(meta) != metadataReply {
		t.Fatalf("metadata %q %v", meta, err)
	}

	s := NewSession(c)
	out, err := s.Query(ctx, "Qm123", []byte(`{"query":"{ _metadata { chain } }"}`))
	if err != nil || string(out) != metadataReply {
		t.Fatalf("query %q %v", out, err)
	}

	_, err = c.Query(ctx, "Qm123", "garbage", []byte(`{"query":"{ a }"}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Kind != "token_invalid" {
		t.Fatalf("expected token_invalid, got %v", err)
	}
}

func TestSessionCachesToken(t *testing.T) {
	url, _ := newGateway(t)
	s := NewSession(newClient(t, url))
	ctx := context.Background()

	first, err := s.Token(ctx, "Qm123")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	second, err := s.Token(ctx, "Qm123")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if first != second {
		t.Fatalf("token not cached")
	}
	if exp := expiry(first); time.Until(exp) < 50*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
}

func TestSessionRenewsRejectedToken(t *testing.T) {
	var issued, queries atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			n := issued.Add(1)
			json.NewEncoder(w).Encode(model.TokenResponse{Token: "tok-" + string(rune('0'+n))})
		case strings.HasPrefix(r.URL.Path, "/query/"):
			queries.Add(1)
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(model.ErrorResponse{Error: "token_expired", Message: "expired"})
				return
			}
			io.WriteString(w, `{"data":{}}`)
		}
	}))
	defer gw.Close()

	s := NewSession(newClient(t, gw.URL))
	out, err := s.Query(context.Background(), "Qm123", []byte(`{"query":"{ a }"}`))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if string(out) != `{"data":{}}` || issued.Load() != 2 || queries.Load() != 2 {
		t.Fatalf("out %q issued %d queries %d", out, issued.Load(), queries.Load())
	}
}

func TestSubscribeReceivesAnnouncements(t *testing.T) {
	url, overlay := newGateway(t)
	c := newClient(t, url)

	conn, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// Wait for the subscribe ack so the announcement is not raced.
	var ack model.AdminResponse
	if err := conn.ReadJSON(&ack); err != nil || ack.ID != 1 {
		t.Fatalf("ack %+v %v", ack, err)
	}
	if err := overlay.Announce(context.Background(), "Qm777", "http://127.0.0.1:9"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	for {
		var frame model.AdminResponse
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev discovery.Event
		if frame.Method == model.AdminEvent && json.Unmarshal(frame.Result, &ev) == nil && ev.DeploymentID == "Qm777" {
			if !strings.Contains(formatEvent(ev), "announce") {
				t.Fatalf("formatted event %q", formatEvent(ev))
			}
			return
		}
	}
}

func TestEnvelope(t *testing.T) {
	for _, tc := range []struct {
		in, want string
		err      bool
	}{
		{`{ _metadata { chain } }`, `{"query":"{ _metadata { chain } }"}`, false},
		{`{"query":"{ a }","variables":{"x":1}}`, `{"query":"{ a }","variables":{"x":1}}`, false},
		{`   `, ``, true},
	} {
		got, err := Envelope(tc.in)
		if (err != nil) != tc.err {
			t.Fatalf("Envelope(%q) error %v", tc.in, err)
		}
		if !tc.err && string(got) != tc.want {
			t.Fatalf("Envelope(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	key, _, _ := signature.NewSecp256k1Keypair()
	if _, err := NewClient("ftp://gateway", key); err == nil {
		t.Fatalf("accepted ftp url")
	}
}

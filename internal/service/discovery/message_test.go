package discovery

import (
	"bytes"
	"errors"
	"testing"

	"query_gateway/internal/model"
)

func TestSignatureIgnoresHops(t *testing.T) {
	s := signer{key: []byte("k")}
	m := &model.AnnouncementMessage{
		Type: model.MessageAnnounce, Origin: "node-a", DeploymentID: "Qm123",
		Endpoint: "http://a", Timestamp: 1, Hops: 4,
	}
	s.sign(m)
	d := digest(m)

	m.Hops = 1
	if !s.verify(m) {
		t.Fatalf("relay hop change broke signature")
	}
	if !bytes.Equal(d, digest(m)) {
		t.Fatalf("digest depends on hops")
	}

	m.Endpoint = "http://evil"
	if s.verify(m) {
		t.Fatalf("tampered endpoint verified")
	}
}

func TestDecodeMessageValidation(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"announce","origin":"a","timestamp":1}`,
		`{"type":"withdraw","origin":"a","timestamp":1}`,
		`{"type":"heartbeat","timestamp":1}`,
		`{"type":"heartbeat","origin":"a"}`,
		`{"type":"gossip","origin":"a","timestamp":1}`,
		`{"type":"heartbeat","origin":"a","timestamp":1,"hops":-1}`,
	}
	for _, in := range bad {
		if _, err := decodeMessage([]byte(in)); !errors.Is(err, errBadMessage) {
			t.Fatalf("decode(%s) = %v", in, err)
		}
	}

	m, err := decodeMessage([]byte(`{"type":"announce","origin":"a","deployment_id":"Qm1","endpoint":"http://a","timestamp":7,"hops":2}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.DeploymentID != "Qm1" || m.Hops != 2 {
		t.Fatalf("decoded %+v", m)
	}
}

func TestSeenFilterRotation(t *testing.T) {
	f := newSeenFilter(1000, 0.001)
	d := []byte("digest")
	if f.testAndAdd(d) {
		t.Fatalf("empty filter reported a hit")
	}
	if !f.testAndAdd(d) {
		t.Fatalf("second test missed")
	}
	f.rotate()
	if !f.testAndAdd(d) {
		t.Fatalf("previous generation forgotten too early")
	}
	f.rotate()
	f.rotate()
	if f.testAndAdd([]byte("digest")) {
		t.Fatalf("digest survived two rotations without being re-added")
	}
}

package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryNetwork is an in-process mesh where every joined node sees every
// other. It backs single-node deployments and tests.
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*MemoryTransport
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

func (n *MemoryNetwork) Join(id string) *MemoryTransport {
	t := &MemoryTransport{id: id, network: n}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

func (n *MemoryNetwork) lookup(id string) (*MemoryTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[id]
	return t, ok
}

type MemoryTransport struct {
	id      string
	network *MemoryNetwork
	handler atomic.Pointer[HandlerFunc]
}

func (t *MemoryTransport) LocalID() string { return t.id }

func (t *MemoryTransport) Peers() []string {
	t.network.mu.RLock()
	defer t.network.mu.RUnlock()
	peers := make([]string, 0, len(t.network.nodes))
	for id := range t.network.nodes {
		if id != t.id {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)
	return peers
}

func (t *MemoryTransport) Send(ctx context.Context, peerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	peer, ok := t.network.lookup(peerID)
	if !ok {
		return fmt.Errorf("memory transport: unknown peer %s", peerID)
	}
	h := peer.handler.Load()
	if h == nil {
		return fmt.Errorf("memory transport: peer %s has no handler", peerID)
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	(*h)(t.id, frame)
	return nil
}

func (t *MemoryTransport) SetHandler(h HandlerFunc) {
	t.handler.Store(&h)
}

// Close detaches the node; peers stop seeing it immediately.
func (t *MemoryTransport) Close() error {
	t.network.mu.Lock()
	delete(t.network.nodes, t.id)
	t.network.mu.Unlock()
	return nil
}

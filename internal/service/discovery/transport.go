package discovery

import "context"

// HandlerFunc receives raw gossip frames. Implementations must not block.
type HandlerFunc func(from string, data []byte)

// Transport moves opaque gossip frames between mesh nodes.
type Transport interface {
	LocalID() string
	Peers() []string
	Send(ctx context.Context, peerID string, data []byte) error
	SetHandler(h HandlerFunc)
}

// Connector is implemented by transports that can dial a peer by address.
type Connector interface {
	Connect(ctx context.Context, addr string) error
}

// FullMesh is implemented by transports where a single Send already reaches
// every node (pub/sub), so relaying would only add duplicates.
type FullMesh interface {
	FullMesh() bool
}

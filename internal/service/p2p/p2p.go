package p2p

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"query_gateway/internal/service/discovery"
	"query_gateway/internal/utils/log"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	ProtocolID   = protocol.ID("/query-gateway/gossip/1.0.0")
	maxFrameSize = 64 * 1024
)

type Config struct {
	ListenAddrs []string
	Bootstrap   []string
	KeyFile     string
	Rendezvous  string

	// DiscoveryInterval is how often the rendezvous is queried for new peers.
	DiscoveryInterval time.Duration
}

// Service is a libp2p host that carries overlay gossip as newline-delimited
// frames on ProtocolID and finds mesh peers through a Kademlia rendezvous.
type Service struct {
	cfg       Config
	host      host.Host
	kdht      *dht.IpfsDHT
	bootstrap []peer.AddrInfo
	handler   atomic.Pointer[discovery.HandlerFunc]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Service, error) {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 30 * time.Second
	}

	priv, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	var peers []peer.AddrInfo
	for _, addr := range cfg.Bootstrap {
		pi, err := parseAddr(addr)
		if err != nil {
			log.Warn("invalid bootstrap address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		peers = append(peers, *pi)
	}

	s := &Service{
		cfg:       cfg,
		host:      h,
		kdht:      kdht,
		bootstrap: peers,
		ctx:       ctx,
		cancel:    cancel,
	}
	h.SetStreamHandler(ProtocolID, s.handleStream)
	return s, nil
}

func (s *Service) Name() string { return "p2p" }

func (s *Service) LocalID() string { return s.host.ID().String() }

// Addrs returns dialable multiaddrs including the /p2p/ component.
func (s *Service) Addrs() []string {
	out := make([]string, 0, len(s.host.Addrs()))
	for _, a := range s.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, s.host.ID()))
	}
	return out
}

func (s *Service) Start(ctx context.Context) error {
	context.AfterFunc(ctx, s.cancel)
	log.Info("starting p2p", zap.String("id", s.LocalID()), zap.Strings("addrs", s.Addrs()))

	if err := s.kdht.Bootstrap(s.ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}
	for _, bp := range s.bootstrap {
		if err := s.host.Connect(s.ctx, bp); err != nil {
			log.Warn("failed to connect bootstrap peer", zap.String("peer", bp.ID.String()), zap.Error(err))
			continue
		}
		log.Info("connected bootstrap peer", zap.String("peer", bp.ID.String()))
	}

	if s.cfg.Rendezvous != "" {
		s.wg.Add(1)
		go s.discover()
	}
	return nil
}

func (s *Service) discover() {
	defer s.wg.Done()
	rd := drouting.NewRoutingDiscovery(s.kdht)
	dutil.Advertise(s.ctx, rd, s.cfg.Rendezvous)

	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		s.findPeers(rd)
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) findPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DiscoveryInterval)
	defer cancel()

	found, err := rd.FindPeers(ctx, s.cfg.Rendezvous)
	if err != nil {
		log.Debug("rendezvous lookup failed", zap.Error(err))
		return
	}
	for pi := range found {
		if pi.ID == s.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if s.host.Network().Connectedness(pi.ID) == network.Connected {
			continue
		}
		if err := s.host.Connect(ctx, pi); err != nil {
			log.Debug("failed to connect discovered peer", zap.String("peer", pi.ID.String()), zap.Error(err))
			continue
		}
		log.Info("connected mesh peer", zap.String("peer", pi.ID.String()))
	}
}

func (s *Service) Stop() error {
	s.cancel()
	s.wg.Wait()
	return errors.Join(s.kdht.Close(), s.host.Close())
}

// Peers lists connected peers known to speak the gossip protocol.
func (s *Service) Peers() []string {
	var out []string
	for _, p := range s.host.Network().Peers() {
		protos, err := s.host.Peerstore().SupportsProtocols(p, ProtocolID)
		if err != nil || len(protos) == 0 {
			continue
		}
		out = append(out, p.String())
	}
	return out
}

func (s *Service) Send(ctx context.Context, peerID string, data []byte) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("bad peer id %q: %w", peerID, err)
	}
	st, err := s.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return err
	}
	defer st.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetWriteDeadline(dl)
	}

	frame := make([]byte, 0, len(data)+1)
	frame = append(append(frame, data...), '\n')
	_, err = st.Write(frame)
	return err
}

func (s *Service) SetHandler(h discovery.HandlerFunc) {
	s.handler.Store(&h)
}

func (s *Service) Connect(ctx context.Context, addr string) error {
	pi, err := parseAddr(addr)
	if err != nil {
		return err
	}
	return s.host.Connect(ctx, *pi)
}

func (s *Service) handleStream(st network.Stream) {
	defer st.Close()
	from := st.Conn().RemotePeer().String()

	scanner := bufio.NewScanner(st)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)
	for scanner.Scan() {
		h := s.handler.Load()
		if h == nil {
			continue
		}
		line := scanner.Bytes()
		frame := make([]byte, len(line))
		copy(frame, line)
		(*h)(from, frame)
	}
	if err := scanner.Err(); err != nil {
		log.Debug("gossip stream read error", zap.String("peer", from), zap.Error(err))
	}
}

func parseAddr(addr string) (*peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("bad multiaddr %q: %w", addr, err)
	}
	return peer.AddrInfoFromP2pAddr(maddr)
}

// loadOrCreateKey keeps the node's peer id stable across restarts when a
// key file is configured.
func loadOrCreateKey(path string) (lcrypto.PrivKey, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return lcrypto.UnmarshalPrivateKey(data)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read key file: %w", err)
		}
	}

	priv, _, err := lcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return priv, nil
	}

	data, err := lcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return priv, nil
}

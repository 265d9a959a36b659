package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"query_gateway/internal/utils/log"

	"go.uber.org/zap"
)

type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Node starts services in registration order and stops them in reverse.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	services []Service
	started  []Service
}

func New() *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{ctx: ctx, cancel: cancel}
}

func (n *Node) RegisterService(s Service) {
	n.services = append(n.services, s)
}

func (n *Node) Start() error {
	for _, s := range n.services {
		if err := s.Start(n.ctx); err != nil {
			n.Stop()
			return fmt.Errorf("failed to start service %s: %w", s.Name(), err)
		}
		n.started = append(n.started, s)
		log.Info("started service", zap.String("name", s.Name()))
	}
	return nil
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then stops the node.
func (n *Node) Wait(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	case <-n.ctx.Done():
	}
	n.Stop()
}

func (n *Node) Stop() {
	for i := len(n.started) - 1; i >= 0; i-- {
		s := n.started[i]
		log.Info("stopping service", zap.String("name", s.Name()))
		if err := s.Stop(); err != nil {
			log.Warn("error stopping service", zap.String("name", s.Name()), zap.Error(err))
		}
	}
	n.started = nil
	n.cancel()
	log.Info("node shutdown complete")
}

func (n *Node) Context() context.Context {
	return n.ctx
}

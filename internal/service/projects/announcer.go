package projects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"query_gateway/internal/repository/project"
	"query_gateway/internal/utils/log"

	"go.uber.org/zap"
)

type Overlay interface {
	Announce(ctx context.Context, deploymentID, endpoint string) error
	Withdraw(ctx context.Context, deploymentID string) error
}

// Announcer keeps the overlay in step with the project source: new projects
// are announced, vanished ones withdrawn, and everything is withdrawn on Stop.
type Announcer struct {
	source   project.Source
	overlay  Overlay
	interval time.Duration

	mu     sync.Mutex
	served map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAnnouncer(source project.Source, overlay Overlay, interval time.Duration) *Announcer {
	return &Announcer{
		source:   source,
		overlay:  overlay,
		interval: interval,
		served:   make(map[string]string),
	}
}

func (a *Announcer) Name() string { return "projects" }

func (a *Announcer) Start(ctx context.Context) error {
	if err := a.Sync(ctx); err != nil {
		return err
	}
	if a.interval <= 0 {
		return nil
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.Sync(ctx); err != nil {
					log.Warn("project refresh failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Sync reads the source once and reconciles the served set.
func (a *Announcer) Sync(ctx context.Context) error {
	list, err := a.source.List(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	want := make(map[string]string, len(list))
	for _, p := range list {
		want[p.DeploymentID] = p.Endpoint
	}

	for id, endpoint := range want {
		if a.served[id] == endpoint {
			continue
		}
		if err := a.overlay.Announce(ctx, id, endpoint); err != nil {
			log.Error("announce project failed", zap.String("deployment_id", id), zap.Error(err))
			continue
		}
		a.served[id] = endpoint
		log.Info("serving project", zap.String("deployment_id", id), zap.String("endpoint", endpoint))
	}

	for id := range a.served {
		if _, ok := want[id]; ok {
			continue
		}
		a.withdraw(ctx, id)
	}
	return nil
}

func (a *Announcer) withdraw(ctx context.Context, id string) {
	if err := a.overlay.Withdraw(ctx, id); err != nil {
		log.Warn("withdraw project failed", zap.String("deployment_id", id), zap.Error(err))
	}
	delete(a.served, id)
	log.Info("stopped serving project", zap.String("deployment_id", id))
}

func (a *Announcer) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.served {
		a.withdraw(ctx, id)
	}
	return nil
}

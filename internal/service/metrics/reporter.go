package metrics

import (
	"context"
	"sync"
	"time"

	"query_gateway/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Reporter periodically pushes the registry to a Prometheus Pushgateway.
// A failed push is logged and the next tick tries again; request handling
// never waits on it.
type Reporter struct {
	pusher   *push.Pusher
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReporter(m *Metrics, url, job, instance string, interval time.Duration) *Reporter {
	timeout := interval / 2
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Reporter{
		pusher:   push.New(url, job).Gatherer(m.Registry).Grouping("instance", instance),
		interval: interval,
		timeout:  timeout,
	}
}

func (r *Reporter) Name() string { return "metrics-reporter" }

func (r *Reporter) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pushOnce(ctx)
		}
	}
}

func (r *Reporter) pushOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.pusher.PushContext(ctx); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
		return
	}
	log.Debug("metrics pushed")
}

func (r *Reporter) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"query_gateway/internal/config"
	"query_gateway/internal/model"
	"query_gateway/internal/repository/project"
	"query_gateway/internal/service/discovery"
	"query_gateway/internal/service/metrics"
	"query_gateway/internal/service/node"
	"query_gateway/internal/service/p2p"
	"query_gateway/internal/service/projects"
	"query_gateway/internal/service/proxy"
	redisSvc "query_gateway/internal/service/redis"
	"query_gateway/internal/service/server"
	"query_gateway/internal/service/token"
	"query_gateway/internal/utils/log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Node.LogLevel, cfg.Node.LogFormat); err != nil {
		return err
	}
	defer log.Sync()

	n := node.New()
	m := metrics.New()

	transport, err := buildTransport(n, cfg)
	if err != nil {
		return err
	}

	overlay, err := discovery.New(discovery.Config{
		Secret:             []byte(cfg.Token.Secret),
		Fanout:             cfg.Overlay.Fanout,
		MaxHops:            cfg.Overlay.MaxHops,
		InboxSize:          cfg.Overlay.InboxSize,
		Workers:            cfg.Overlay.Workers,
		HeartbeatInterval:  cfg.Overlay.HeartbeatInterval,
		ReannounceInterval: cfg.Overlay.ReannounceInterval,
		LivenessTimeout:    cfg.Overlay.LivenessTimeout,
		StaleAfter:         cfg.Overlay.StaleAfter,
		SweepInterval:      cfg.Overlay.SweepInterval,
		SendTimeout:        cfg.Overlay.SendTimeout,
		BloomExpected:      cfg.Overlay.Bloom.ExpectedElements,
		BloomFalsePositive: cfg.Overlay.Bloom.FalsePositiveRate,
		BloomRotate:        cfg.Overlay.Bloom.RotateInterval,
	}, transport, m)
	if err != nil {
		return err
	}
	n.RegisterService(overlay)

	tokens, err := token.NewService(token.Config{
		Secret:    []byte(cfg.Token.Secret),
		TTL:       cfg.Token.TTL,
		Freshness: cfg.Token.Freshness,
	})
	if err != nil {
		return err
	}

	source, err := buildSource(n, cfg)
	if err != nil {
		return err
	}
	n.RegisterService(projects.NewAnnouncer(source, overlay, cfg.Projects.RefreshEvery))

	pipeline := proxy.NewPipeline(proxy.Config{
		Timeout:      cfg.Proxy.Timeout,
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
	}, tokens, overlay, m)

	n.RegisterService(server.NewHttpServer(server.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		AdminEnabled: cfg.Admin.Enabled,
	}, tokens, overlay, pipeline, m))

	if cfg.Metrics.PushURL != "" {
		n.RegisterService(metrics.NewReporter(m, cfg.Metrics.PushURL, cfg.Metrics.Job, overlay.LocalID(), cfg.Metrics.Interval))
	}

	if err := n.Start(); err != nil {
		return err
	}
	log.Info("gateway started",
		zap.String("peer", overlay.LocalID()),
		zap.String("transport", cfg.Overlay.Transport),
		zap.String("listen", cfg.Server.ListenAddr))

	if ctx == nil {
		ctx = context.Background()
	}
	n.Wait(ctx)
	return nil
}

func nodeID(cfg *config.Config) string {
	if cfg.Node.ID != "" {
		return cfg.Node.ID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "gateway"
	}
	return host + "-" + uuid.NewString()[:8]
}

// buildTransport registers the transport first so it is up before the
// overlay starts gossiping and down only after the overlay stopped.
func buildTransport(n *node.Node, cfg *config.Config) (discovery.Transport, error) {
	switch cfg.Overlay.Transport {
	case "libp2p":
		svc, err := p2p.New(p2p.Config{
			ListenAddrs: cfg.P2P.ListenAddrs,
			Bootstrap:   cfg.P2P.Bootstrap,
			KeyFile:     cfg.P2P.KeyFile,
			Rendezvous:  cfg.P2P.Rendezvous,
		})
		if err != nil {
			return nil, err
		}
		n.RegisterService(svc)
		log.Info("libp2p host ready", zap.String("peer", svc.LocalID()), zap.Strings("addrs", svc.Addrs()))
		return svc, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc := redisSvc.NewRedis(rdb)
		tr := redisSvc.NewTransport(svc, cfg.Redis.Channel, nodeID(cfg), cfg.Overlay.StaleAfter)
		n.RegisterService(&closer{name: "redis", close: svc.Close, start: svc.Ping})
		n.RegisterService(tr)
		return tr, nil

	case "memory":
		return discovery.NewMemoryNetwork().Join(nodeID(cfg)), nil
	}
	return nil, fmt.Errorf("unknown overlay transport %q", cfg.Overlay.Transport)
}

func buildSource(n *node.Node, cfg *config.Config) (project.Source, error) {
	switch cfg.Projects.Source {
	case "mongo":
		client, err := initMongo(cfg.Projects.MongoURI)
		if err != nil {
			return nil, err
		}
		n.RegisterService(&closer{name: "mongo", close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}})
		return project.NewProjectRepo(client.Database(cfg.Projects.MongoDatabase)), nil

	case "coordinator":
		return project.NewCoordinatorSource(cfg.Projects.CoordinatorURL, &http.Client{Timeout: 10 * time.Second}), nil

	case "static":
		list := make([]model.Project, 0, len(cfg.Projects.Static))
		for _, p := range cfg.Projects.Static {
			list = append(list, model.Project{DeploymentID: p.DeploymentID, Endpoint: p.Endpoint, Enabled: true})
		}
		return project.NewStaticSource(list), nil
	}
	return nil, fmt.Errorf("unknown project source %q", cfg.Projects.Source)
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// closer ties a client's lifetime to the node.
type closer struct {
	name  string
	start func(ctx context.Context) error
	close func() error
}

func (c *closer) Name() string { return c.name }

func (c *closer) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *closer) Stop() error { return c.close() }

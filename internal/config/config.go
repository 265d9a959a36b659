package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Node struct {
		// ID names this node on the memory and redis transports. libp2p
		// nodes use their peer ID instead.
		ID        string `mapstructure:"id"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"node"`

	Server struct {
		ListenAddr   string        `mapstructure:"listen_addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Token struct {
		Secret    string        `mapstructure:"secret"`
		TTL       time.Duration `mapstructure:"ttl"`
		Freshness time.Duration `mapstructure:"freshness"`
	} `mapstructure:"token"`

	Overlay struct {
		Transport          string        `mapstructure:"transport"`
		Fanout             int           `mapstructure:"fanout"`
		MaxHops            int           `mapstructure:"max_hops"`
		InboxSize          int           `mapstructure:"inbox_size"`
		Workers            int           `mapstructure:"workers"`
		HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
		ReannounceInterval time.Duration `mapstructure:"reannounce_interval"`
		LivenessTimeout    time.Duration `mapstructure:"liveness_timeout"`
		StaleAfter         time.Duration `mapstructure:"stale_after"`
		SweepInterval      time.Duration `mapstructure:"sweep_interval"`
		SendTimeout        time.Duration `mapstructure:"send_timeout"`
		Bloom              struct {
			ExpectedElements  uint          `mapstructure:"expected_elements"`
			FalsePositiveRate float64       `mapstructure:"false_positive_rate"`
			RotateInterval    time.Duration `mapstructure:"rotate_interval"`
		} `mapstructure:"bloom"`
	} `mapstructure:"overlay"`

	P2P struct {
		ListenAddrs []string `mapstructure:"listen_addrs"`
		Bootstrap   []string `mapstructure:"bootstrap"`
		KeyFile     string   `mapstructure:"key_file"`
		Rendezvous  string   `mapstructure:"rendezvous"`
	} `mapstructure:"p2p"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	Proxy struct {
		Timeout      time.Duration `mapstructure:"timeout"`
		MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"proxy"`

	Metrics struct {
		PushURL  string        `mapstructure:"push_url"`
		Job      string        `mapstructure:"job"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`

	Projects struct {
		Source         string          `mapstructure:"source"`
		Static         []StaticProject `mapstructure:"static"`
		MongoURI       string          `mapstructure:"mongo_uri"`
		MongoDatabase  string          `mapstructure:"mongo_database"`
		CoordinatorURL string          `mapstructure:"coordinator_url"`
		RefreshEvery   time.Duration   `mapstructure:"refresh_interval"`
	} `mapstructure:"projects"`

	Admin struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"admin"`
}

type StaticProject struct {
	DeploymentID string `mapstructure:"deployment_id"`
	Endpoint     string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.id", "")
	v.SetDefault("node.log_level", "info")
	v.SetDefault("node.log_format", "console")

	v.SetDefault("server.listen_addr", "0.0.0.0:8003")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	// keys without a default are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", 12*time.Hour)
	v.SetDefault("token.freshness", 2*time.Minute)

	v.SetDefault("overlay.transport", "memory")
	v.SetDefault("overlay.fanout", 6)
	v.SetDefault("overlay.max_hops", 4)
	v.SetDefault("overlay.inbox_size", 1024)
	v.SetDefault("overlay.workers", 32)
	v.SetDefault("overlay.heartbeat_interval", 10*time.Second)
	v.SetDefault("overlay.reannounce_interval", 30*time.Second)
	v.SetDefault("overlay.liveness_timeout", 45*time.Second)
	v.SetDefault("overlay.stale_after", 5*time.Minute)
	v.SetDefault("overlay.sweep_interval", 5*time.Second)
	v.SetDefault("overlay.send_timeout", 3*time.Second)
	v.SetDefault("overlay.bloom.expected_elements", 100000)
	v.SetDefault("overlay.bloom.false_positive_rate", 0.01)
	v.SetDefault("overlay.bloom.rotate_interval", 10*time.Minute)

	v.SetDefault("p2p.listen_addrs", []string{"/ip4/0.0.0.0/tcp/7370", "/ip4/0.0.0.0/udp/7370/quic-v1"})
	v.SetDefault("p2p.rendezvous", "query-gateway")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "query-gateway:gossip")

	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.max_body_bytes", 1<<20)

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "query_gateway")
	v.SetDefault("metrics.interval", 60*time.Second)

	v.SetDefault("projects.source", "static")
	v.SetDefault("projects.mongo_uri", "")
	v.SetDefault("projects.mongo_database", "gateway")
	v.SetDefault("projects.coordinator_url", "")
	v.SetDefault("projects.refresh_interval", time.Minute)

	v.SetDefault("admin.enabled", false)
}

// LoadConfig reads path (optional) and overlays GATEWAY_* environment
// variables, e.g. GATEWAY_TOKEN_SECRET for token.secret.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret is required"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}
	if c.Token.Freshness <= 0 {
		errs = append(errs, errors.New("token.freshness must be positive"))
	}
	if r := c.Overlay.Bloom.FalsePositiveRate; r <= 0 || r >= 1 {
		errs = append(errs, fmt.Errorf("overlay.bloom.false_positive_rate %v out of (0,1)", r))
	}
	if c.Overlay.StaleAfter < c.Overlay.LivenessTimeout {
		errs = append(errs, errors.New("overlay.stale_after must not be shorter than overlay.liveness_timeout"))
	}
	switch c.Overlay.Transport {
	case "memory", "libp2p", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown overlay.transport %q", c.Overlay.Transport))
	}
	switch c.Projects.Source {
	case "static", "mongo", "coordinator":
	default:
		errs = append(errs, fmt.Errorf("unknown projects.source %q", c.Projects.Source))
	}
	return errors.Join(errs...)
}

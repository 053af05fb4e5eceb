// Package config loads synapse.toml node configuration.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/pkg/overlay"
	"github.com/busybox42/synapse/pkg/types"
)

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"

	PolicyAcceptAll  = "accept-all"
	PolicyReputation = "reputation"
	PolicyCapacity   = "capacity"
)

// Config is the full node configuration.
type Config struct {
	Node      Node      `toml:"node"`
	Transport Transport `toml:"transport"`
	Routing   Routing   `toml:"routing"`
	Policy    Policy    `toml:"policy"`
	Log       Log       `toml:"log"`
	Bootstrap []Invite  `toml:"bootstrap"`
}

// Node identifies this participant.
type Node struct {
	// Address is how other nodes reach us. Defaults to Listen.
	Address string `toml:"address"`
	Listen  string `toml:"listen"`
}

type Transport struct {
	Kind           string `toml:"kind"`
	Tor            bool   `toml:"tor"`
	MaxMessageSize int    `toml:"max-message-size"`
}

// Routing tunes the flood. A zero MaxTags and TagWindow keep every
// processed tag for the life of the process.
type Routing struct {
	MaxTTL    int           `toml:"max-ttl"`
	MaxTags   int           `toml:"max-tags"`
	TagWindow time.Duration `toml:"tag-window"`
	InboxSize int           `toml:"inbox-size"`
}

type Policy struct {
	Kind         string `toml:"kind"`
	BanThreshold int    `toml:"ban-threshold"`
	MaxNeighbors int    `toml:"max-neighbors"`
}

type Log struct {
	Level string `toml:"level"`
}

// Invite is a membership offer the daemon replays at startup.
type Invite struct {
	Network string `toml:"network"`
	Peer    string `toml:"peer"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Node: Node{
			Listen: "127.0.0.1:7946",
		},
		Transport: Transport{
			Kind: TransportTCP,
		},
		Routing: Routing{
			MaxTTL:    overlay.DefaultMaxTTL,
			MaxTags:   100000,
			TagWindow: 10 * time.Minute,
			InboxSize: 256,
		},
		Policy: Policy{
			Kind: PolicyAcceptAll,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load parses path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes configuration from TOML text over the defaults.
func Parse(data string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Node.Listen == "" {
		return fmt.Errorf("node.listen is required")
	}
	switch c.Transport.Kind {
	case TransportTCP:
	case TransportQUIC:
		if c.Transport.Tor {
			return fmt.Errorf("transport.tor requires the %s transport", TransportTCP)
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}
	if c.Routing.MaxTTL <= 0 {
		return fmt.Errorf("routing.max-ttl must be positive, got %d", c.Routing.MaxTTL)
	}
	if c.Routing.MaxTags < 0 || c.Routing.TagWindow < 0 {
		return fmt.Errorf("routing.max-tags and routing.tag-window must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.Policy.Build(); err != nil {
		return err
	}
	for i, inv := range c.Bootstrap {
		if inv.Network == "" {
			return fmt.Errorf("bootstrap[%d]: network is required", i)
		}
	}
	return nil
}

// Address is the advertised node address.
func (c *Config) Address() types.Address {
	if c.Node.Address != "" {
		return types.Address(c.Node.Address)
	}
	return types.Address(c.Node.Listen)
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Build constructs the configured admission policy.
func (p Policy) Build() (overlay.AdmissionPolicy, error) {
	switch p.Kind {
	case "", PolicyAcceptAll:
		return overlay.AcceptAll{}, nil
	case PolicyReputation:
		rep := overlay.NewReputationPolicy(p.BanThreshold)
		if p.MaxNeighbors > 0 {
			return overlay.AllOf(rep, overlay.CapacityPolicy{MaxNeighbors: p.MaxNeighbors}), nil
		}
		return rep, nil
	case PolicyCapacity:
		if p.MaxNeighbors <= 0 {
			return nil, fmt.Errorf("policy.max-neighbors must be positive for %s", PolicyCapacity)
		}
		return overlay.CapacityPolicy{MaxNeighbors: p.MaxNeighbors}, nil
	default:
		return nil, fmt.Errorf("unknown policy.kind %q", p.Kind)
	}
}

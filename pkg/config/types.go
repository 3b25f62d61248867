package config

import (
	"time"

	"github.com/cfoust/snek/pkg/discovery"
	"github.com/cfoust/snek/pkg/world"
)

type NodeSettings struct {
	Name string `yaml:"name"`
	// Unicast port for game sessions, 0 for any.
	Port      int    `yaml:"port"`
	Advertise string `yaml:"advertise"`
}

type MulticastSettings struct {
	Enabled bool   `yaml:"enabled"`
	Group   string `yaml:"group"`
}

type DiscoverySettings struct {
	TTL      time.Duration           `yaml:"ttl"`
	Sweep    time.Duration           `yaml:"sweep"`
	Announce time.Duration           `yaml:"announce"`
	Redis    discovery.RedisSettings `yaml:"redis"`
}

type LimitSettings struct {
	JoinRate  float64 `yaml:"joinRate"`
	JoinBurst int     `yaml:"joinBurst"`
}

type SpectateSettings struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type Config struct {
	Node      NodeSettings      `yaml:"node"`
	Multicast MulticastSettings `yaml:"multicast"`
	Game      world.GameConfig  `yaml:"game"`
	Discovery DiscoverySettings `yaml:"discovery"`
	Limits    LimitSettings     `yaml:"limits"`
	Spectate  SpectateSettings  `yaml:"spectate"`
}

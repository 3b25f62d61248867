package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/cfoust/snek/pkg/node"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

var ErrInvalid = errors.New("invalid config")

// decode layers a document over config. Keys the document leaves out keep
// their previous value.
func decode(config *Config, data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(config)
	// An empty document changes nothing.
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func readFile(config *Config, path string) error {
	// Check if this is a valid file
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("does not exist")
	}

	switch filepath.Ext(path) {
	// JSON is read as YAML, which it is a subset of.
	case ".json", ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return decode(config, data)
	}

	return fmt.Errorf(
		"not in a valid format",
	)
}

// Process reads the provided configuration files in order on top of the
// embedded defaults. Later files override earlier ones key by key.
func Process(configPaths []string) (*Config, error) {
	config := Config{}
	if err := decode(&config, DEFAULT); err != nil {
		return nil, fmt.Errorf(
			"invalid default config file: %w",
			err,
		)
	}

	for _, path := range configPaths {
		err := readFile(&config, path)
		if err != nil {
			return nil, fmt.Errorf(
				"could not process config file %s: %w",
				path,
				err,
			)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Config) Validate() error {
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("%w: node.port out of range: %d", ErrInvalid, c.Node.Port)
	}

	if c.Multicast.Enabled {
		addr, err := net.ResolveUDPAddr("udp4", c.Multicast.Group)
		if err != nil {
			return fmt.Errorf("%w: multicast.group: %v", ErrInvalid, err)
		}
		if !addr.IP.IsMulticast() {
			return fmt.Errorf("%w: multicast.group %s is not a multicast address", ErrInvalid, c.Multicast.Group)
		}
	}

	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("%w: game: %w", ErrInvalid, err)
	}

	if c.Discovery.TTL <= 0 || c.Discovery.Sweep <= 0 || c.Discovery.Announce <= 0 {
		return fmt.Errorf("%w: discovery intervals must be positive", ErrInvalid)
	}

	if c.Limits.JoinRate <= 0 || c.Limits.JoinBurst <= 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalid)
	}

	if c.Spectate.Enabled && c.Spectate.Address == "" {
		return fmt.Errorf("%w: spectate.address is required", ErrInvalid)
	}

	return nil
}

// NodeOptions turns the settings into what node.New expects.
func (c Config) NodeOptions() node.Options {
	options := node.Options{
		Name:             c.Node.Name,
		Port:             c.Node.Port,
		AdvertiseHost:    c.Node.Advertise,
		Multicast:        c.Multicast.Enabled,
		MulticastGroup:   c.Multicast.Group,
		AnnounceInterval: c.Discovery.Announce,
		DiscoveryTTL:     c.Discovery.TTL,
		SweepInterval:    c.Discovery.Sweep,
		JoinRate:         rate.Limit(c.Limits.JoinRate),
		JoinBurst:        c.Limits.JoinBurst,
	}

	if c.Discovery.Redis.Address != "" {
		redis := c.Discovery.Redis
		options.Redis = &redis
	}

	return options
}

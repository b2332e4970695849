// Package config loads the node configuration from a yaml or json file with
// K_ prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/transactive/api"
	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/neighbor"
	"github.com/kilianp07/transactive/core/node"
	"github.com/kilianp07/transactive/infra/logger"
	"github.com/kilianp07/transactive/infra/monitoring"
	"github.com/kilianp07/transactive/infra/mqtt"
)

// Config is the complete configuration of a node.
type Config struct {
	Node      node.Config       `json:"node"`
	Markets   []market.Config   `json:"markets"`
	Assets    []asset.Config    `json:"assets"`
	Neighbors []neighbor.Config `json:"neighbors"`
	// MQTT is optional; an empty broker disables the MQTT transports.
	MQTT    mqtt.Config       `json:"mqtt"`
	Metrics metrics.Config    `json:"metrics"`
	Logging logger.Config     `json:"logging"`
	Sentry  monitoring.Config `json:"sentry"`
	API     api.Config        `json:"api"`
}

// Load reads path, applies environment overrides, defaults and validation.
// Overrides use the K_ prefix with __ separating levels, e.g.
// K_NODE__NAME=feeder.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides; the callback maps __ to the koanf delimiter.
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills zero values of every section.
func (c *Config) SetDefaults() {
	c.Node.SetDefaults()
	c.Logging.SetDefaults()
	c.API.SetDefaults()
	for i := range c.Markets {
		c.Markets[i].SetDefaults()
	}
	for i := range c.Assets {
		c.Assets[i].SetDefaults()
		if c.Assets[i].Market == "" && len(c.Markets) == 1 {
			c.Assets[i].Market = c.Markets[0].Name
		}
	}
	for i := range c.Neighbors {
		c.Neighbors[i].SetDefaults()
		if c.Neighbors[i].Market == "" && len(c.Markets) == 1 {
			c.Neighbors[i].Market = c.Markets[0].Name
		}
	}
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = c.Node.Name
		}
	}
}

// Validate checks every section and the references between them.
func (c Config) Validate() error {
	var errs []error
	if err := c.Node.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Markets) == 0 {
		errs = append(errs, errors.New("at least one market is required"))
	}
	markets := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
		}
		if markets[m.Name] {
			errs = append(errs, fmt.Errorf("duplicate market %s", m.Name))
		}
		markets[m.Name] = true
	}
	participants := make(map[string]bool)
	transport := false
	for _, a := range c.Assets {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, c.checkParticipant(participants, markets, a.Name, a.Market)...)
		if len(a.Points) > 0 {
			transport = true
		}
	}
	for _, n := range c.Neighbors {
		if err := n.Validate(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, c.checkParticipant(participants, markets, n.Name, n.Market)...)
		if neighbor.Kind(n.Kind) == neighbor.KindTransactive {
			if n.Name == c.Node.Name {
				errs = append(errs, fmt.Errorf("neighbor %s has the node's own name", n.Name))
			}
			transport = true
		}
	}
	if transport && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("transactive neighbors and asset points require mqtt.broker"))
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c Config) checkParticipant(seen, markets map[string]bool, name, market string) []error {
	var errs []error
	key := market + "/" + name
	if seen[key] {
		errs = append(errs, fmt.Errorf("market %s: duplicate participant %s", market, name))
	}
	seen[key] = true
	if !markets[market] {
		errs = append(errs, fmt.Errorf("participant %s: unknown market %q", name, market))
	}
	return errs
}

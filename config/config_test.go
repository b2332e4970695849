package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoadYAML(t *testing.T) {
	path := write(t, "config.yaml", `node:
  name: "feeder-1"
markets:
  - name: "da"
    interval_minutes: 15
    horizon_intervals: 4
    method: "subgradient"
assets:
  - name: "building"
    power: -40
  - name: "battery"
    kind: "flexible"
    flexible:
      a1: 0.04
      a2: 0.001
      min_power: -20
      max_power: 20
neighbors:
  - name: "substation"
  - name: "grid"
    kind: "bulk_supplier"
    supplier:
      max_power: 500
      price: 0.06
mqtt:
  broker: "tcp://localhost:1883"
metrics:
  sinks:
    - type: "nop"
logging:
  level: "debug"
api:
  addr: ":8080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"node.name", cfg.Node.Name, "feeder-1"},
		{"node.retry", cfg.Node.RetryIntervalSeconds, 30},
		{"market.interval", cfg.Markets[0].IntervalMinutes, 15},
		{"market.method", cfg.Markets[0].Method, "subgradient"},
		{"market.activation_lead", cfg.Markets[0].ActivationLeadMinutes, 60},
		{"asset.kind", cfg.Assets[0].Kind, "inelastic"},
		{"asset.market", cfg.Assets[1].Market, "da"},
		{"asset.max_power", cfg.Assets[1].Flexible.MaxPower, 20.0},
		{"neighbor.kind", cfg.Neighbors[0].Kind, "transactive"},
		{"neighbor.market", cfg.Neighbors[1].Market, "da"},
		{"supplier.price", cfg.Neighbors[1].Supplier.Price, 0.06},
		{"mqtt.client_id", cfg.MQTT.ClientID, "feeder-1"},
		{"mqtt.prefix", cfg.MQTT.TopicPrefix, "tns"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"api.cors", strings.Join(cfg.API.CORSAllowedOrigins, ","), "*"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	path := write(t, "config.json", `{
  "node": {"name": "feeder-1"},
  "markets": [{"name": "rt", "interval_minutes": 5}],
  "assets": [{"name": "pv", "kind": "forecast"}]
}`)
	t.Setenv("K_NODE__NAME", "feeder-2")
	t.Setenv("K_LOGGING__LEVEL", "warn")
	t.Setenv("K_NODE__RETRY_INTERVAL_SECONDS", "5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Node.Name != "feeder-2" {
		t.Errorf("node name override: got %q", cfg.Node.Name)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging level override: got %q", cfg.Logging.Level)
	}
	if cfg.Node.RetryIntervalSeconds != 5 {
		t.Errorf("retry interval override: got %d", cfg.Node.RetryIntervalSeconds)
	}
	if cfg.MQTT.TopicPrefix != "" {
		t.Errorf("mqtt defaults applied without broker: %q", cfg.MQTT.TopicPrefix)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := write(t, "config.toml", `node = "x"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for toml file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no market", `node: {name: n}`, "at least one market"},
		{"duplicate market", `
node: {name: n}
markets: [{name: da}, {name: da}]`, "duplicate market da"},
		{"unknown market", `
node: {name: n}
markets: [{name: da}, {name: rt}]
assets: [{name: load, market: id}]`, `unknown market "id"`},
		{"duplicate participant", `
node: {name: n}
markets: [{name: da}]
assets: [{name: load}]
neighbors: [{name: load, kind: static, vertices: [{marginal_price: 0.05, power: 10}]}]`, "duplicate participant load"},
		{"self neighbor", `
node: {name: n}
markets: [{name: da}]
neighbors: [{name: n}]
mqtt: {broker: "tcp://localhost:1883"}`, "node's own name"},
		{"transport without broker", `
node: {name: n}
markets: [{name: da}]
neighbors: [{name: upstream}]`, "require mqtt.broker"},
		{"bad level", `
node: {name: n}
markets: [{name: da}]
logging: {level: loud}`, "loud"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(write(t, "config.yaml", c.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", c.want)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not contain %q", err, c.want)
			}
		})
	}
}

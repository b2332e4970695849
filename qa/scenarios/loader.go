// Package scenarios replays market clearing scenarios described in yaml
// files and checks the cleared prices.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/neighbor"
)

// ClearDef is one balancing pass of a scenario.
type ClearDef struct {
	// OffsetMinutes is added to the scenario start.
	OffsetMinutes int      `yaml:"offset_minutes"`
	Expected      Expected `yaml:"expected"`
}

// Expected holds the outcome of a pass.
type Expected struct {
	// Prices lists the marginal price of every cleared interval in order.
	Prices    []float64 `yaml:"prices"`
	Forced    bool      `yaml:"forced"`
	Tolerance float64   `yaml:"tolerance,omitempty"`
}

// Scenario is one market and the passes to run on it. Market, asset and
// neighbor sections use the node configuration keys.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Start       time.Time        `yaml:"start"`
	Market      map[string]any   `yaml:"market"`
	Assets      []map[string]any `yaml:"assets,omitempty"`
	Neighbors   []map[string]any `yaml:"neighbors,omitempty"`
	Clears      []ClearDef       `yaml:"clears"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}

// Build creates the market and its participants.
func (sc *Scenario) Build() (*market.Market, error) {
	var mc market.Config
	if err := factory.Decode(sc.Market, &mc); err != nil {
		return nil, fmt.Errorf("market: %w", err)
	}
	m, err := market.New(mc, nil)
	if err != nil {
		return nil, err
	}
	for i, raw := range sc.Assets {
		var ac asset.Config
		if err := factory.Decode(raw, &ac); err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		a, err := asset.New(ac)
		if err != nil {
			return nil, err
		}
		if err := m.AddParticipant(a); err != nil {
			return nil, err
		}
	}
	for i, raw := range sc.Neighbors {
		var nc neighbor.Config
		if err := factory.Decode(raw, &nc); err != nil {
			return nil, fmt.Errorf("neighbor %d: %w", i, err)
		}
		n, err := neighbor.New(nc)
		if err != nil {
			return nil, err
		}
		if err := m.AddParticipant(n); err != nil {
			return nil, err
		}
	}
	return m, nil
}

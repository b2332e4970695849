package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/transactive/pkg/export"
)

const feeder = `node:
  name: feeder
markets:
  - name: da
    horizon_intervals: 2
    method: interpolation
assets:
  - name: building
    power: -40
neighbors:
  - name: grid
    kind: static
    vertices:
      - {marginal_price: 0.03, power: 0}
      - {marginal_price: 0.08, power: 100}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(feeder), 0o644))
	return path
}

func TestClearJSON(t *testing.T) {
	out, err := execute(t, "clear", "-c", writeConfig(t), "--env-file", "", "--at", "2026-03-02T10:20:00Z", "-o", "json")
	require.NoError(t, err, out)
	var rows []export.Row
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "da", r.Market)
		assert.InDelta(t, 0.05, r.MarginalPrice, 1e-9)
		assert.True(t, r.Converged)
	}
}

func TestClearYAMLAndTable(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "clear", "-c", path, "--env-file", "", "--at", "2026-03-02T10:20:00Z", "-o", "yaml")
	require.NoError(t, err, out)
	var rows []export.Row
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows), out)
	assert.Len(t, rows, 2)

	out, err = execute(t, "clear", "-c", path, "--env-file", "", "--at", "2026-03-02T10:20:00Z")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "MARKET"))
	assert.Contains(t, lines[1], "0.05000")
}

func TestClearRejectsBadFlags(t *testing.T) {
	path := writeConfig(t)
	_, err := execute(t, "clear", "-c", path, "--env-file", "", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
	_, err = execute(t, "clear", "-c", path, "--env-file", "", "--at", "tomorrow")
	assert.ErrorContains(t, err, "invalid --at")
}

func TestValidateLoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("K_NODE__NAME=feeder-from-env\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("K_NODE__NAME") })

	out, err := execute(t, "validate", "-c", writeConfig(t), "--env-file", env)
	require.NoError(t, err, out)
	assert.Equal(t, "node feeder-from-env: 1 markets, 2 participants\n", out)

	_, err = execute(t, "validate", "-c", filepath.Join(dir, "missing.yaml"), "--env-file", filepath.Join(dir, "none.env"))
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
cycle:
  instruments: [btcusdt, ETHUSDT]
decision:
  endpoint: http://127.0.0.1:9001/decide
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Cycle.Instruments, "instruments normalized to uppercase")
	assert.Equal(t, 180, cfg.Cycle.IntervalSeconds)
	assert.Equal(t, 2000, cfg.Cycle.DataDeadlineMS)
	assert.Equal(t, 1000, cfg.Cycle.DecisionDeadlineMS)
	assert.Equal(t, "paper", cfg.Exchange.Mode)
	assert.Equal(t, 30, cfg.Market.StalenessSeconds)
	assert.Equal(t, ":8086", cfg.App.HTTPAddr)
	assert.Equal(t, "data/vigil.db", cfg.Store.Path)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no instruments", `
decision:
  endpoint: http://x/decide
`},
		{"duplicate instrument", `
cycle:
  instruments: [BTCUSDT, btcusdt]
decision:
  endpoint: http://x/decide
`},
		{"binance without keys", `
cycle:
  instruments: [BTCUSDT]
decision:
  endpoint: http://x/decide
exchange:
  mode: binance
`},
		{"missing decision endpoint", `
cycle:
  instruments: [BTCUSDT]
`},
		{"telegram enabled without token", `
cycle:
  instruments: [BTCUSDT]
decision:
  endpoint: http://x/decide
notify:
  telegram:
    enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

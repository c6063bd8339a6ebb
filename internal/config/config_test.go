package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
bot_name: sniper-bot-1
rpc:
  providers:
    - name: helius
      url: https://mainnet.helius-rpc.com/?api-key=x
      ws_url: wss://mainnet.helius-rpc.com/?api-key=x
      capabilities: [query, subscribe]
      rpm: 600
    - name: public
      url: https://api.mainnet-beta.solana.com
      capabilities: [query]
      rpm: 100
  profiles:
    default: [public, helius]
    sniper: [helius, public]
monitor:
  tick_ms: 1000
  defaults:
    stop_loss_pct: 0.3
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sniper-bot-1", cfg.BotName)
	require.Len(t, cfg.RPC.Providers, 2)
	assert.Equal(t, []string{"query", "subscribe"}, cfg.RPC.Providers[0].Capabilities)
	assert.Equal(t, []string{"helius", "public"}, cfg.RPC.Profiles["sniper"])

	// defaults
	assert.Equal(t, time.Second, cfg.Monitor.Tick())
	assert.Equal(t, 3, cfg.Monitor.MaxPriceErrors)
	assert.InDelta(t, 0.25, cfg.Monitor.HardStopLossPct, 1e-9)
	assert.InDelta(t, 0.3, cfg.Monitor.Defaults.StopLossPct, 1e-9)
	assert.Equal(t, 300*time.Second, cfg.Dedup.TTL())
	assert.Equal(t, 24*time.Hour, cfg.Ledger.Retention())
	assert.Equal(t, []string{"pumpfun", "pumpswap", "jupiter"}, cfg.Executor.Routes)
	assert.Less(t, cfg.Fees.SellExtraPct, cfg.Fees.BuyExtraPct)
}

func TestLoadConfigEnvProviders(t *testing.T) {
	t.Setenv("EXIT_ENGINE_RPC_URLS", "https://a.example, https://b.example")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.RPC.Providers, 2)
	assert.Equal(t, "https://a.example", cfg.RPC.Providers[0].URL)
	assert.Empty(t, cfg.RPC.Profiles)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no providers", "bot_name: x\n"},
		{"unknown provider in profile", `
rpc:
  providers:
    - {name: a, url: "https://a", rpm: 10}
  profiles:
    default: [b]
`},
		{"bad capability", `
rpc:
  providers:
    - {name: a, url: "https://a", rpm: 10, capabilities: [stream]}
`},
		{"bad url", `
rpc:
  providers:
    - {name: a, url: "ftp://a", rpm: 10}
`},
		{"bad strategy", `
rpc:
  providers:
    - {name: a, url: "https://a", rpm: 10}
fees:
  strategy: yolo
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

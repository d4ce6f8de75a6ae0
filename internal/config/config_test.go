package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":9000"
store:
  driver: bolt
  path: /tmp/sale.db
sale:
  unit_price_usd: "0.1"
  tiers:
    - from_sold: "1000"
      price_usd: "0.2"
oracles:
  - id: bnb-usd
    kind: static
    value: "600"
  - id: usdt-usd
    kind: http
    url: http://localhost:9999/usdt
assets:
  - token: "0x55d398326f99059fF775485246999027B3197955"
    oracle: usdt-usd
genesis:
  owner: "0x0000000000000000000000000000000000000001"
  admin: "0x0000000000000000000000000000000000000002"
  token: "0x0000000000000000000000000000000000000003"
  custody: "0x0000000000000000000000000000000000000004"
  initial_supply: "1000000"
  native_oracle: bnb-usd
  balances:
    - asset: "0x55d398326f99059fF775485246999027B3197955"
      account: "0x0000000000000000000000000000000000000005"
      amount: "12.5"
      decimals: 6
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 40, cfg.Server.RateBurst)
	require.Equal(t, uint8(18), cfg.Sale.TokenDecimals)
	require.Equal(t, int64(30), cfg.Worker.IntervalSeconds)
	require.Len(t, cfg.Oracles, 2)
	require.Equal(t, "0.2", cfg.Sale.Tiers[0].PriceUSD)
	require.Equal(t, uint8(6), cfg.Genesis.Balances[0].AssetDecimals())
	require.Equal(t, "dtokensale:events", cfg.Redis.Channel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("RPC_ENDPOINTS", "http://a, http://b,")
	t.Setenv("WORKER_INTERVAL_SECONDS", "bogus")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, []string{"http://a", "http://b"}, cfg.Chain.RPCEndpoints)
	require.Equal(t, int64(30), cfg.Worker.IntervalSeconds)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadTOML(t *testing.T) {
	body := `
[store]
driver = "postgres"

[db]
dsn = "postgres://localhost/sale"

[[oracles]]
id = "bnb-usd"
kind = "static"
value = "600.5"

[genesis]
owner = "0x0000000000000000000000000000000000000001"
admin = "0x0000000000000000000000000000000000000002"
token = "0x0000000000000000000000000000000000000003"
custody = "0x0000000000000000000000000000000000000004"
initial_supply = "10"
native_oracle = "bnb-usd"
`
	cfg, err := Load(writeFile(t, "config.toml", body))
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, "postgres://localhost/sale", cfg.DB.DSN)
	require.Equal(t, "600.5", cfg.Oracles[0].Value)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "sqlite"
	cfg.Sale.UnitPriceUSD = "0"
	cfg.Oracles = []OracleConfig{
		{ID: "x", Kind: OracleChainlink, Address: "nope"},
		{ID: "X", Kind: "magic"},
	}
	cfg.Genesis.Owner = "0x0000000000000000000000000000000000000000"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"store.driver",
		"sale.unit_price_usd",
		"address must be a hex address",
		"chain.rpc_endpoints is required",
		`duplicate id "X"`,
		`unknown kind "magic"`,
		"genesis.owner",
		"genesis.native_oracle",
	} {
		require.Contains(t, msg, want)
	}
}

func TestSplitCommaList(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitCommaList(" a ,, b "))
	require.Empty(t, splitCommaList(" , "))
}

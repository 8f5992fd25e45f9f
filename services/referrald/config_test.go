package referrald

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nameref/native/referral"
)

const sampleYAML = `
listen: ":8088"
env: test
auth:
  hmac_secret: s3cret
  issuer: ops
registrar:
  address: "0x000000000000000000000000000000000000f00e"
  min_duration: 28d
  prices:
    - length: 3
      yearly: "1000"
    - length: 5
      yearly: "100"
  premiums:
    abc: "50"
programs:
  - id: partners
    owner: "0x000000000000000000000000000000000000f001"
    payout_mode: pull
    strategy:
      kind: allowlist
      inner:
        kind: duration
        inner:
          kind: percent
          bps: 500
    allowlist:
      - "0x000000000000000000000000000000000000a001"
  - id: loyal
    owner: "0x000000000000000000000000000000000000f001"
    strategy:
      kind: loyalty
genesis:
  "0x000000000000000000000000000000000000b001": "10000"
`

const sampleTOML = `
listen = ":8089"
data_dir = "/var/lib/referrald"

[auth]
hmac_secret = "s3cret"
clock_skew = "30s"

[registrar]
address = "0x000000000000000000000000000000000000f00e"
grace_period = "90d"

[[registrar.prices]]
length = 3
yearly = "1000"

[[programs]]
id = "main"
owner = "0x000000000000000000000000000000000000f001"

[programs.strategy]
kind = "percent"
bps = 250
`

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "referrald.yaml", sampleYAML))
	require.NoError(t, err)

	require.Equal(t, ":8088", cfg.ListenAddress)
	require.Equal(t, "test", cfg.Environment)
	require.Equal(t, 28*24*time.Hour, cfg.Registrar.MinDuration.Duration)
	require.Len(t, cfg.Registrar.Prices, 2)
	require.Equal(t, "50", cfg.Registrar.Premiums["abc"])
	require.Len(t, cfg.Programs, 2)

	partners := cfg.Programs[0]
	require.Equal(t, "pull", partners.PayoutMode)
	strategy, err := partners.Strategy.Build()
	require.NoError(t, err)
	require.Equal(t, "allowlist(duration(percent(500)))", referral.Describe(strategy))

	require.Equal(t, "push", cfg.Programs[1].PayoutMode)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(120), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadConfigTOML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "referrald.toml", sampleTOML))
	require.NoError(t, err)

	require.Equal(t, ":8089", cfg.ListenAddress)
	require.Equal(t, "/var/lib/referrald", cfg.DataDir)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, uint64(90*24*60*60), cfg.Registrar.GracePeriod.Seconds())
	require.Len(t, cfg.Programs, 1)
	require.Equal(t, referral.KindPercent, cfg.Programs[0].Strategy.Kind)
	require.Equal(t, uint32(250), cfg.Programs[0].Strategy.Bps)
	require.NotNil(t, cfg.Genesis)
}

func TestLoadConfigSecretFromEnv(t *testing.T) {
	t.Setenv("REFERRALD_TEST_SECRET", " from-env ")
	contents := `
auth:
  hmac_secret_env: REFERRALD_TEST_SECRET
registrar:
  address: "0x000000000000000000000000000000000000f00e"
  prices:
    - length: 3
      yearly: "1"
programs:
  - id: main
    owner: "0x000000000000000000000000000000000000f001"
    strategy: {kind: loyalty}
`
	cfg, err := LoadConfig(writeConfig(t, "env.yaml", contents))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	base := func() Config {
		cfg := Config{
			Auth: AuthConfig{HMACSecret: "x"},
			Registrar: RegistrarConfig{
				Address: "0x000000000000000000000000000000000000f00e",
				Prices:  []PriceTier{{Length: 3, Yearly: "1"}},
			},
			Programs: []ProgramConfig{{
				ID:       "main",
				Owner:    "0x000000000000000000000000000000000000f001",
				Strategy: referral.StrategySpec{Kind: referral.KindLoyalty},
			}},
		}
		applyDefaults(&cfg)
		return cfg
	}
	require.NoError(t, validateConfig(base()))

	cases := map[string]func(*Config){
		"missing secret":    func(c *Config) { c.Auth.HMACSecret = "" },
		"bad registrar":     func(c *Config) { c.Registrar.Address = "nope" },
		"no prices":         func(c *Config) { c.Registrar.Prices = nil },
		"bad price":         func(c *Config) { c.Registrar.Prices[0].Yearly = "-1" },
		"bad tier length":   func(c *Config) { c.Registrar.Prices[0].Length = 0 },
		"no programs":       func(c *Config) { c.Programs = nil },
		"empty program id":  func(c *Config) { c.Programs[0].ID = " " },
		"duplicate program": func(c *Config) { c.Programs = append(c.Programs, c.Programs[0]) },
		"bad owner":         func(c *Config) { c.Programs[0].Owner = "0x1" },
		"bad payout mode":   func(c *Config) { c.Programs[0].PayoutMode = "later" },
		"bad strategy":      func(c *Config) { c.Programs[0].Strategy = referral.StrategySpec{Kind: "percent", Bps: 20_000} },
		"bad member":        func(c *Config) { c.Programs[0].Allowlist = []string{"zz"} },
		"bad genesis":       func(c *Config) { c.Genesis["zz"] = "1" },
		"bad genesis value": func(c *Config) { c.Genesis["0x000000000000000000000000000000000000b001"] = "1.5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, validateConfig(cfg))
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var out struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 90s\nb: 2d\nc: \"\"\n"), &out))
	require.Equal(t, 90*time.Second, out.A.Duration)
	require.Equal(t, 48*time.Hour, out.B.Duration)
	require.Zero(t, out.C.Duration)
	require.Equal(t, uint64(172800), out.B.Seconds())

	var bad Duration
	require.Error(t, bad.UnmarshalText([]byte("xd")))
	require.Error(t, bad.UnmarshalText([]byte("soon")))
	require.Error(t, yaml.Unmarshal([]byte("a: [1]\n"), &out))
}

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount(" 1000000000000000000 ")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", amount.Dec())

	zero, err := parseAmount("")
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = parseAmount("ten")
	require.Error(t, err)
}

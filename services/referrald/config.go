package referrald

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"nameref/native/referral"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler. Besides Go durations it
// accepts a day suffix such as "365d".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		var n int64
		if _, err := fmt.Sscanf(days, "%d", &n); err != nil || n < 0 {
			return fmt.Errorf("parse duration %q", raw)
		}
		d.Duration = time.Duration(n) * 24 * time.Hour
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() uint64 {
	if d.Duration <= 0 {
		return 0
	}
	return uint64(d.Duration / time.Second)
}

// Config captures the runtime configuration for referrald.
type Config struct {
	ListenAddress string            `yaml:"listen" toml:"listen"`
	DataDir       string            `yaml:"data_dir" toml:"data_dir"`
	Environment   string            `yaml:"env" toml:"env"`
	Log           LogConfig         `yaml:"log" toml:"log"`
	Telemetry     TelemetryConfig   `yaml:"telemetry" toml:"telemetry"`
	Auth          AuthConfig        `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Registrar     RegistrarConfig   `yaml:"registrar" toml:"registrar"`
	Programs      []ProgramConfig   `yaml:"programs" toml:"programs"`
	Genesis       map[string]string `yaml:"genesis" toml:"genesis"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// AuthConfig configures bearer token verification for mutating routes.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds the request rate per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// RegistrarConfig parameterises the reference registrar controller.
type RegistrarConfig struct {
	Address     string            `yaml:"address" toml:"address"`
	Prices      []PriceTier       `yaml:"prices" toml:"prices"`
	Premiums    map[string]string `yaml:"premiums" toml:"premiums"`
	MinDuration Duration          `yaml:"min_duration" toml:"min_duration"`
	GracePeriod Duration          `yaml:"grace_period" toml:"grace_period"`
}

// PriceTier is the yearly rent of labels of at least Length characters.
type PriceTier struct {
	Length int    `yaml:"length" toml:"length"`
	Yearly string `yaml:"yearly" toml:"yearly"`
}

// ProgramConfig declares a referral program.
type ProgramConfig struct {
	ID         string                `yaml:"id" toml:"id"`
	Owner      string                `yaml:"owner" toml:"owner"`
	Strategy   referral.StrategySpec `yaml:"strategy" toml:"strategy"`
	PayoutMode string                `yaml:"payout_mode" toml:"payout_mode"`
	GasStipend uint64                `yaml:"gas_stipend" toml:"gas_stipend"`
	// Allowlist seeds the allowlist commitment at startup when set.
	Allowlist []string `yaml:"allowlist" toml:"allowlist"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Genesis == nil {
		cfg.Genesis = map[string]string{}
	}
	for i := range cfg.Programs {
		if cfg.Programs[i].PayoutMode == "" {
			cfg.Programs[i].PayoutMode = referral.PayoutPush.String()
		}
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth hmac_secret must be configured")
	}
	if !common.IsHexAddress(cfg.Registrar.Address) {
		return fmt.Errorf("registrar address %q is invalid", cfg.Registrar.Address)
	}
	if len(cfg.Registrar.Prices) == 0 {
		return fmt.Errorf("registrar prices must be configured")
	}
	for _, tier := range cfg.Registrar.Prices {
		if tier.Length <= 0 {
			return fmt.Errorf("registrar price tier length must be positive")
		}
		if _, err := parseAmount(tier.Yearly); err != nil {
			return fmt.Errorf("registrar price for length %d: %w", tier.Length, err)
		}
	}
	for name, premium := range cfg.Registrar.Premiums {
		if _, err := parseAmount(premium); err != nil {
			return fmt.Errorf("premium for %s: %w", name, err)
		}
	}
	if len(cfg.Programs) == 0 {
		return fmt.Errorf("at least one program must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Programs))
	for _, p := range cfg.Programs {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("program id must be configured")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate program %q", id)
		}
		seen[id] = struct{}{}
		if !common.IsHexAddress(p.Owner) {
			return fmt.Errorf("program %s: owner %q is invalid", id, p.Owner)
		}
		if _, err := referral.ParsePayoutMode(p.PayoutMode); err != nil {
			return fmt.Errorf("program %s: %w", id, err)
		}
		if _, err := p.Strategy.Build(); err != nil {
			return fmt.Errorf("program %s: %w", id, err)
		}
		for _, member := range p.Allowlist {
			if !common.IsHexAddress(member) {
				return fmt.Errorf("program %s: allowlist member %q is invalid", id, member)
			}
		}
	}
	for addr, amount := range cfg.Genesis {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("genesis address %q is invalid", addr)
		}
		if _, err := parseAmount(amount); err != nil {
			return fmt.Errorf("genesis balance for %s: %w", addr, err)
		}
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	secret := strings.TrimSpace(a.HMACSecret)
	switch {
	case secret != "":
	case strings.TrimSpace(a.HMACSecretEnv) != "":
		secret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.HMACSecretEnv)))
		if secret == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
	case strings.TrimSpace(a.HMACSecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.HMACSecret = secret
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return amount, nil
}

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dua-ia/dua-credits/internal/hooks"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/credits.ini"
	envPrefix        = "DUA_"
)

// VendorKinds are the product areas that can be pointed at a vendor endpoint.
var VendorKinds = []string{"music", "video", "image", "design", "chat"}

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// VendorConfig points one product area at a task endpoint.
type VendorConfig struct {
	URL  string
	Key  string
	Path string
}

// RateLimitConfig configures the per-user token bucket.
type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// CreditsConfig describes runtime options for the daemon and CLI.
type CreditsConfig struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// DatabaseDriver is sqlite or postgres.
	DatabaseDriver string
	LedgerPath     string
	DatabaseDSN    string
	IdentityPath   string
	IdentityDSN    string
	DBMaxOpen      int
	DBMaxIdle      int

	AuthSecret   string
	AuthDisabled bool
	AdminEmails  []string

	GateMode         string
	PriceFile        string
	PriceOverrideTTL time.Duration
	RequestTimeout   time.Duration
	DeductTimeout    time.Duration

	RateLimit RateLimitConfig

	// Vendors is keyed by kind; kinds without a URL use the fallback adapter.
	Vendors         map[string]VendorConfig
	VendorRoutes    map[string]string
	FallbackAdapter string

	Hooks hooks.Config
}

// LoadCreditsConfig layers config/setting.ini, config/<env>/credits.ini and
// DUA_* environment variables, in increasing precedence. A .env file under
// root is loaded first and never overrides variables already set.
func LoadCreditsConfig(root string) (CreditsConfig, error) {
	if root == "" {
		root = "."
	}
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return CreditsConfig{}, fmt.Errorf("load .env: %w", err)
	}
	s, err := loadSettings(root)
	if err != nil {
		return CreditsConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return CreditsConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		return firstNonEmpty(append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)...)
	}

	cfg := CreditsConfig{
		Environment:     s.Environment,
		HTTPAddress:     get("http_address", ":8080"),
		LogFile:         get("log_file"),
		LogLevel:        strings.ToLower(get("log_level", "info")),
		DatabaseDriver:  strings.ToLower(get("database_driver", "sqlite")),
		LedgerPath:      get("ledger_path", DefaultLedgerPath()),
		DatabaseDSN:     get("database_dsn"),
		IdentityPath:    get("identity_path", DefaultIdentityPath()),
		IdentityDSN:     get("identity_dsn"),
		DBMaxOpen:       parseOptionalInt(get("db_max_open"), 20),
		DBMaxIdle:       parseOptionalInt(get("db_max_idle"), 10),
		AuthSecret:      get("auth_secret", "dua-dev-secret"),
		AuthDisabled:    parseBool(get("auth_disabled")),
		AdminEmails:     parseCSV(get("admin_emails")),
		GateMode:        strings.ToLower(get("gate_mode", "check_then_deduct")),
		PriceFile:       get("price_file"),
		FallbackAdapter: get("fallback_adapter", "loopback"),
		VendorRoutes:    parseMap(get("vendor_routes")),
	}
	if cfg.IdentityDSN == "" {
		cfg.IdentityDSN = cfg.DatabaseDSN
	}
	if cfg.LogFile == "-" {
		cfg.LogFile = ""
	}
	switch cfg.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return CreditsConfig{}, errors.New("database_dsn required when database_driver=postgres")
		}
	default:
		return CreditsConfig{}, fmt.Errorf("invalid database_driver %q", cfg.DatabaseDriver)
	}
	if cfg.Environment != defaultEnv && cfg.AuthSecret == "dua-dev-secret" && !cfg.AuthDisabled {
		return CreditsConfig{}, fmt.Errorf("auth_secret must be set outside %s", defaultEnv)
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"price_override_ttl", &cfg.PriceOverrideTTL, 30 * time.Second},
		{"request_timeout", &cfg.RequestTimeout, 120 * time.Second},
		{"deduct_timeout", &cfg.DeductTimeout, 5 * time.Second},
	}
	for _, d := range durations {
		v, err := parseOptionalDuration(d.key, get(d.key), d.fallback)
		if err != nil {
			return CreditsConfig{}, err
		}
		*d.dst = v
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:       parseBool(get("rate_limit_enabled")),
		Burst:         parseOptionalInt(get("rate_limit_burst"), 20),
		RedisAddr:     get("redis_addr"),
		RedisPassword: get("redis_password"),
		RedisDB:       parseOptionalInt(get("redis_db"), 0),
	}
	if v := get("rate_limit_rps", "5"); v != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || rps <= 0 {
			return CreditsConfig{}, fmt.Errorf("invalid rate_limit_rps %q", v)
		}
		cfg.RateLimit.RPS = rps
	}

	cfg.Vendors = make(map[string]VendorConfig)
	for _, kind := range VendorKinds {
		vc := VendorConfig{
			URL:  get("vendor_" + kind + "_url"),
			Key:  get("vendor_" + kind + "_key"),
			Path: get("vendor_" + kind + "_path"),
		}
		if vc.URL != "" {
			cfg.Vendors[kind] = vc
		}
	}

	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(get("hooks_enabled")),
		ScriptPath: get("hooks_script_path"),
		ScriptArgs: parseCSV(get("hooks_script_args")),
		Env:        parseMap(get("hooks_script_env")),
		LogEvents:  parseOptionalBool(get("hooks_log_events"), true),
	}
	timeout, err := parseOptionalDuration("hooks_timeout", get("hooks_timeout"), hooks.DefaultTimeout)
	if err != nil {
		return CreditsConfig{}, err
	}
	cfg.Hooks.Timeout = timeout
	if err := cfg.Hooks.Validate(); err != nil {
		return CreditsConfig{}, err
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: strings.ToLower(strings.TrimSpace(env)), Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseMap reads "k=v" pairs separated by commas; "=>" is accepted too.
func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	result := make(map[string]string)
	for _, entry := range strings.Split(input, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		var kv []string
		if strings.Contains(entry, "=>") {
			kv = strings.SplitN(entry, "=>", 2)
		} else {
			kv = strings.SplitN(entry, "=", 2)
		}
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".dua", "ledger.db")
}

// DefaultIdentityPath returns the fallback identity database path.
func DefaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "identity.db"
	}
	return filepath.Join(home, ".dua", "identity.db")
}

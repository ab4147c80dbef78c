package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"republic/internal/agent/ports"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "republic.yaml"

// EnvPrefix namespaces the canonical environment variables.
const EnvPrefix = "REPUBLIC"

// ErrMissingAPIKey is returned when a real LLM provider is configured
// without credentials.
var ErrMissingAPIKey = errors.New(`llm.api_key is required when llm.provider is not "mock"`)

// RuntimeConfig is the process-level configuration shared by every command.
type RuntimeConfig struct {
	LLM       LLMConfig     `mapstructure:"llm"`
	Trace     TraceConfig   `mapstructure:"trace"`
	Defaults  AgentDefaults `mapstructure:"defaults"`
	Workspace string        `mapstructure:"workspace"`
	Catalog   string        `mapstructure:"catalog"`
	Server    ServerConfig  `mapstructure:"server"`
	Store     StoreConfig   `mapstructure:"store"`
	Log       LogConfig     `mapstructure:"log"`
}

// LLMConfig selects the oracle backend.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
}

// TraceConfig locates the audit trail.
type TraceConfig struct {
	StoragePath string `mapstructure:"storage_path"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisStream string `mapstructure:"redis_stream"`
}

// AgentDefaults fills limits a manifest leaves unset.
type AgentDefaults struct {
	MaxSteps            int     `mapstructure:"max_steps"`
	ToolTimeoutMs       int     `mapstructure:"tool_timeout_ms"`
	CostBudgetUSD       float64 `mapstructure:"cost_budget_usd"`
	ScratchpadMaxTokens int     `mapstructure:"scratchpad_max_tokens"`
}

// Ports converts the defaults for ports.Manifest.WithDefaults.
func (d AgentDefaults) Ports() ports.Defaults {
	return ports.Defaults{
		MaxSteps:            d.MaxSteps,
		ToolTimeoutMs:       d.ToolTimeoutMs,
		CostBudgetUSD:       d.CostBudgetUSD,
		ScratchpadMaxTokens: d.ScratchpadMaxTokens,
	}
}

// ServerConfig configures the trace API.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig configures the SQL run ledger. An empty DSN disables it.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MockMode reports whether runs use the offline oracle.
func (c RuntimeConfig) MockMode() bool {
	return c.LLM.Provider == "" || c.LLM.Provider == "mock"
}

// Validate enforces the fail-fast rules.
func (c RuntimeConfig) Validate() error {
	var problems []string
	provider := strings.ToLower(c.LLM.Provider)
	switch provider {
	case "mock", "ollama":
	case "anthropic", "openai", "openrouter", "custom":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return ErrMissingAPIKey
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}
	if provider == "custom" && c.LLM.BaseURL == "" {
		problems = append(problems, "llm.base_url is required for the custom provider")
	}
	if c.Defaults.MaxSteps < 0 {
		problems = append(problems, "defaults.max_steps must be >= 0")
	}
	if c.Defaults.ToolTimeoutMs <= 0 {
		problems = append(problems, "defaults.tool_timeout_ms must be > 0")
	}
	if c.Defaults.CostBudgetUSD < 0 {
		problems = append(problems, "defaults.cost_budget_usd must be >= 0")
	}
	if c.Defaults.ScratchpadMaxTokens <= 0 {
		problems = append(problems, "defaults.scratchpad_max_tokens must be > 0")
	}
	if strings.TrimSpace(c.Trace.StoragePath) == "" {
		problems = append(problems, "trace.storage_path is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	file     string
	loadedAt time.Time
}

// Source returns the origin for the given configuration key.
func (m Metadata) Source(key string) ValueSource {
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// File returns the config file that was read, if any.
func (m Metadata) File() string {
	return m.file
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	overrides  map[string]any
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithOverrides applies caller overrides, keyed like "llm.provider", that
// take highest precedence.
func WithOverrides(overrides map[string]any) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// AliasEnvLookup consults base for key and then for each of its aliases.
func AliasEnvLookup(base EnvLookup, aliases map[string][]string) EnvLookup {
	return func(key string) (string, bool) {
		if base == nil {
			base = DefaultEnvLookup
		}
		if value, ok := base(key); ok && value != "" {
			return value, true
		}
		for _, alias := range aliases[key] {
			if value, ok := base(alias); ok && value != "" {
				return value, true
			}
		}
		return "", false
	}
}

func defaultValues() map[string]any {
	return map[string]any{
		"llm.provider":                   "mock",
		"llm.model":                      "",
		"llm.temperature":                0.2,
		"trace.storage_path":             "./traces",
		"trace.redis_stream":             "republic:trace",
		"defaults.max_steps":             ports.DefaultMaxSteps,
		"defaults.tool_timeout_ms":       ports.DefaultToolTimeoutMs,
		"defaults.cost_budget_usd":       ports.DefaultCostBudgetUSD,
		"defaults.scratchpad_max_tokens": ports.DefaultScratchpadMaxTokens,
		"workspace":                      "./workspace",
		"catalog":                        "./configs",
		"server.addr":                    ":8787",
		"server.cors_origins":            []string{"*"},
		"log.level":                      "info",
		"log.format":                     "text",
	}
}

// EnvName returns the canonical variable for a config key, e.g.
// "llm.api_key" becomes REPUBLIC_LLM_API_KEY.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load constructs the runtime configuration by merging defaults, file, env
// and overrides, in increasing precedence.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}
	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	defaults := defaultValues()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	path := options.configPath
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := options.readFile(path)
	switch {
	case err == nil:
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return RuntimeConfig{}, meta, fmt.Errorf("parse config %s: %w", path, err)
		}
		meta.file = path
		for _, key := range v.AllKeys() {
			if v.InConfig(key) {
				meta.sources[key] = SourceFile
			}
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return RuntimeConfig{}, meta, fmt.Errorf("read config %s: %w", path, err)
	}

	lookup := AliasEnvLookup(options.envLookup, DefaultEnvAliases())
	for _, key := range configKeys(defaults) {
		if value, ok := lookup(EnvName(key)); ok {
			v.Set(key, value)
			meta.sources[key] = SourceEnv
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
		meta.sources[key] = SourceOverride
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, meta, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, meta, err
	}
	return cfg, meta, nil
}

func configKeys(defaults map[string]any) []string {
	seen := map[string]bool{}
	for key := range defaults {
		seen[key] = true
	}
	for _, key := range []string{"llm.api_key", "llm.base_url", "trace.redis_url", "store.dsn", "log.file"} {
		seen[key] = true
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

func normalize(cfg *RuntimeConfig) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	origins := cfg.Server.CORSOrigins[:0]
	for _, origin := range cfg.Server.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.Server.CORSOrigins = origins
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/playbook-guard/internal/llm"
	"github.com/KaramelBytes/playbook-guard/internal/playbook"
)

// DirName is the per-user configuration directory under $HOME.
const DirName = ".pbguard"

// Global configuration structure.
type Global struct {
	// Catalog files; empty means the embedded defaults.
	DictionaryPath string `mapstructure:"dictionary_path" yaml:"dictionary_path"`
	PlaybooksPath  string `mapstructure:"playbooks_path" yaml:"playbooks_path"`

	// Selection and guardrail thresholds
	SelectThreshold      int `mapstructure:"select_threshold" yaml:"select_threshold"`
	AlternativeThreshold int `mapstructure:"alternative_threshold" yaml:"alternative_threshold"`
	MinRows              int `mapstructure:"min_rows" yaml:"min_rows"`
	GateCap              int `mapstructure:"gate_cap" yaml:"gate_cap"`
	GroupMinRows         int `mapstructure:"group_min_rows" yaml:"group_min_rows"`
	SampleSize           int `mapstructure:"sample_size" yaml:"sample_size"`
	MaxReissues          int `mapstructure:"max_reissues" yaml:"max_reissues"`

	// Audit store
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// Plan refinement model
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	DefaultModel    string `mapstructure:"default_model" yaml:"default_model"`
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost string `mapstructure:"ollama_host" yaml:"ollama_host"`
}

func setDefaults(v *viper.Viper) {
	pol := playbook.DefaultPolicy()
	v.SetDefault("dictionary_path", "")
	v.SetDefault("playbooks_path", "")
	v.SetDefault("select_threshold", pol.SelectThreshold)
	v.SetDefault("alternative_threshold", pol.AlternativeThreshold)
	v.SetDefault("min_rows", pol.MinRows)
	v.SetDefault("gate_cap", pol.GateCap)
	v.SetDefault("group_min_rows", pol.GroupMinRows)
	v.SetDefault("sample_size", pol.SampleSize)
	v.SetDefault("max_reissues", pol.MaxReissues)
	v.SetDefault("db_path", "")
	v.SetDefault("api_key", "")
	v.SetDefault("default_model", "openai/gpt-4o-mini")
	v.SetDefault("default_provider", "openrouter")
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
}

// Dir returns ~/.pbguard.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.pbguard/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A .env file in the working
// directory is read first and never overrides variables already set.
func Load(cfgFile string) (*Global, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PBGUARD")
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.DBPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.DBPath = filepath.Join(dir, "audit.db")
	}
	if err := c.Policy().Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// Policy returns the selection and guardrail thresholds.
func (c *Global) Policy() playbook.Policy {
	return playbook.Policy{
		SelectThreshold:      c.SelectThreshold,
		AlternativeThreshold: c.AlternativeThreshold,
		MinRows:              c.MinRows,
		GateCap:              c.GateCap,
		GroupMinRows:         c.GroupMinRows,
		SampleSize:           c.SampleSize,
		MaxReissues:          c.MaxReissues,
	}
}

// LLMConfig maps the HTTP and provider settings to a runtime configuration.
func (c *Global) LLMConfig() llm.Config {
	return llm.Config{
		HTTPTimeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		APIKey:      c.APIKey,
		Host:        c.OllamaHost,
	}
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	b, _ := yaml.Marshal(&Global{})
	var m map[string]any
	_ = yaml.Unmarshal(b, &m)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to key, parsing it as YAML so numbers stay numbers.
// The result must still be a valid configuration.
func (c *Global) Set(key, value string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	m[key] = parsed
	if b, err = yaml.Marshal(m); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var next Global
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*c = next
	return nil
}

// Defaults returns the built-in configuration without reading files or env.
func Defaults() *Global {
	v := viper.New()
	setDefaults(v)
	var c Global
	_ = v.Unmarshal(&c)
	return &c
}

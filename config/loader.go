package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/SamuelRCrider/pii-go/core"
)

// EnvPrefix prefixes every environment override, e.g. PII_ANALYZER_PRESIDIO_URL
const EnvPrefix = "PII"

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ConfigPath is an optional .yml, .yaml or .json file.
	ConfigPath string
	// EnvFile is loaded into the environment first; defaults to .env. Missing files are ignored.
	EnvFile string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
}

// Load returns the effective configuration after applying precedence:
// defaults < config file < env (PII_*, .env included) < flags.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigPath != "" {
		if err := checkFormat(opts.ConfigPath); err != nil {
			return nil, err
		}
		v.SetConfigFile(opts.ConfigPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults. Every key needs a default
// for AutomaticEnv to see it.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("analyzer.supported_languages", def.Analyzer.SupportedLanguages)
	v.SetDefault("analyzer.entities_to_analyze", def.Analyzer.Entities)
	v.SetDefault("analyzer.allow_list", def.Analyzer.AllowList)
	v.SetDefault("analyzer.score_threshold", def.Analyzer.ScoreThreshold)
	v.SetDefault("analyzer.predefined_recognizers", def.Analyzer.PredefinedRecognizers)
	v.SetDefault("analyzer.recognizers_path", def.Analyzer.RecognizersPath)
	v.SetDefault("analyzer.presidio_url", def.Analyzer.PresidioURL)
	v.SetDefault("analyzer.presidio_timeout_seconds", def.Analyzer.PresidioTimeoutSecs)

	v.SetDefault("redaction.default_policy", def.Redaction.DefaultPolicy)
	v.SetDefault("redaction.marker", def.Redaction.Marker)
	v.SetDefault("redaction.mask_format", def.Redaction.MaskFormat)
	v.SetDefault("redaction.placeholders", def.Redaction.Placeholders)
	v.SetDefault("redaction.overlap", def.Redaction.Overlap)
	v.SetDefault("redaction.cipher", def.Redaction.Cipher)
	v.SetDefault("redaction.deterministic", def.Redaction.Deterministic)

	v.SetDefault("key.source", def.Key.Source)
	v.SetDefault("key.env", def.Key.Env)
	v.SetDefault("key.path", def.Key.Path)

	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.max_body_bytes", def.Server.MaxBodyBytes)
	v.SetDefault("server.rate_limit_per_minute", def.Server.RateLimitPerMinute)
	v.SetDefault("server.read_timeout_seconds", def.Server.ReadTimeoutSecs)
	v.SetDefault("server.write_timeout_seconds", def.Server.WriteTimeoutSecs)

	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.path", def.Audit.Path)
	v.SetDefault("audit.level", def.Audit.Level)
	v.SetDefault("audit.rotation_mb", def.Audit.RotationMB)
	v.SetDefault("audit.retention_days", def.Audit.RetentionDays)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.json", def.Log.JSON)
}

func checkFormat(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml", ".json":
		return nil
	default:
		return &core.ConfigurationError{
			Field:   "config",
			Message: fmt.Sprintf("unsupported config file format %q, use .yml, .yaml or .json", filepath.Ext(path)),
		}
	}
}

// Save writes cfg to path as YAML or JSON depending on the extension.
func Save(cfg *Config, path string) error {
	if err := checkFormat(path); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

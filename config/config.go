// Package config implements layered configuration for pii-go.
// Precedence: defaults < config file (.yml, .yaml, .json) < .env < env (PII_*) < flags.
package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/SamuelRCrider/pii-go/core"
)

// Config is the top-level configuration structure.
type Config struct {
	Analyzer  AnalyzerConfig  `yaml:"analyzer" json:"analyzer" mapstructure:"analyzer"`
	Redaction RedactionConfig `yaml:"redaction" json:"redaction" mapstructure:"redaction"`
	Key       KeyConfig       `yaml:"key" json:"key" mapstructure:"key"`
	Server    ServerConfig    `yaml:"server" json:"server" mapstructure:"server"`
	Audit     AuditConfig     `yaml:"audit" json:"audit" mapstructure:"audit"`
	Log       LogConfig       `yaml:"log" json:"log" mapstructure:"log"`
}

// AnalyzerConfig selects and tunes the recognizers.
type AnalyzerConfig struct {
	SupportedLanguages []string `yaml:"supported_languages" json:"supported_languages" mapstructure:"supported_languages"`
	Entities           []string `yaml:"entities_to_analyze,omitempty" json:"entities_to_analyze,omitempty" mapstructure:"entities_to_analyze"`
	AllowList          []string `yaml:"allow_list,omitempty" json:"allow_list,omitempty" mapstructure:"allow_list"`
	ScoreThreshold     float64  `yaml:"score_threshold" json:"score_threshold" mapstructure:"score_threshold"`
	// PredefinedRecognizers enables the built-in pattern recognizers
	PredefinedRecognizers bool `yaml:"predefined_recognizers" json:"predefined_recognizers" mapstructure:"predefined_recognizers"`
	// RecognizersPath points to a YAML file of custom recognizers
	RecognizersPath string `yaml:"recognizers_path,omitempty" json:"recognizers_path,omitempty" mapstructure:"recognizers_path"`
	// PresidioURL enables the remote Presidio analyzer when set
	PresidioURL         string `yaml:"presidio_url,omitempty" json:"presidio_url,omitempty" mapstructure:"presidio_url"`
	PresidioTimeoutSecs int    `yaml:"presidio_timeout_seconds" json:"presidio_timeout_seconds" mapstructure:"presidio_timeout_seconds"`
}

// RedactionConfig holds the default policy and its parameters.
type RedactionConfig struct {
	DefaultPolicy string            `yaml:"default_policy" json:"default_policy" mapstructure:"default_policy"` // fpe | entities | simple
	Marker        string            `yaml:"marker" json:"marker" mapstructure:"marker"`
	MaskFormat    string            `yaml:"mask_format" json:"mask_format" mapstructure:"mask_format"`
	Placeholders  map[string]string `yaml:"placeholders,omitempty" json:"placeholders,omitempty" mapstructure:"placeholders"`
	Overlap       string            `yaml:"overlap" json:"overlap" mapstructure:"overlap"` // skip | merge | reject
	Cipher        string            `yaml:"cipher" json:"cipher" mapstructure:"cipher"`    // aes-gcm | xchacha20-poly1305
	Deterministic bool              `yaml:"deterministic" json:"deterministic" mapstructure:"deterministic"`
}

// KeyConfig tells where the obfuscation key comes from.
type KeyConfig struct {
	Source string `yaml:"source" json:"source" mapstructure:"source"` // env | file | generate
	Env    string `yaml:"env,omitempty" json:"env,omitempty" mapstructure:"env"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty" mapstructure:"path"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr               string `yaml:"addr" json:"addr" mapstructure:"addr"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes" json:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	ReadTimeoutSecs    int    `yaml:"read_timeout_seconds" json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeoutSecs   int    `yaml:"write_timeout_seconds" json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path          string `yaml:"path" json:"path" mapstructure:"path"`
	Level         string `yaml:"level" json:"level" mapstructure:"level"` // minimal | standard | verbose
	RotationMB    int    `yaml:"rotation_mb" json:"rotation_mb" mapstructure:"rotation_mb"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days" mapstructure:"retention_days"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `yaml:"level" json:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" json:"json" mapstructure:"json"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			SupportedLanguages:    []string{"en", "es"},
			ScoreThreshold:        core.DefaultScoreThreshold,
			PredefinedRecognizers: true,
			PresidioTimeoutSecs:   10,
		},
		Redaction: RedactionConfig{
			DefaultPolicy: "fpe",
			Marker:        core.DefaultReplaceMarker,
			MaskFormat:    core.DefaultMaskFormat,
			Overlap:       string(core.OverlapSkip),
			Cipher:        string(core.CipherAESGCM),
		},
		Key: KeyConfig{
			Source: string(core.KeySourceGenerate),
			Env:    core.DefaultKeyEnv,
		},
		Server: ServerConfig{
			Addr:               ":8080",
			MaxBodyBytes:       1 << 20,
			RateLimitPerMinute: 60,
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   30,
		},
		Audit: AuditConfig{
			Enabled:       false,
			Path:          "audit.log",
			Level:         string(core.AuditLogLevelStandard),
			RotationMB:    100,
			RetentionDays: 90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var languageCode = regexp.MustCompile(`^[a-z]{2,3}(?:-[A-Za-z]{2})?$`)

// AddLanguage adds a language code to the supported languages.
func (c *Config) AddLanguage(code string) error {
	code = strings.TrimSpace(code)
	if !languageCode.MatchString(code) {
		return &core.ConfigurationError{Field: "analyzer.supported_languages", Message: "invalid language code " + code}
	}
	for _, l := range c.Analyzer.SupportedLanguages {
		if strings.EqualFold(l, code) {
			return nil
		}
	}
	c.Analyzer.SupportedLanguages = append(c.Analyzer.SupportedLanguages, code)
	return nil
}

// AnalyzeOptions returns the analysis options the configuration selects.
func (c *Config) AnalyzeOptions() core.AnalyzeOptions {
	return core.AnalyzeOptions{
		Entities:       c.Analyzer.Entities,
		AllowList:      c.Analyzer.AllowList,
		ScoreThreshold: c.Analyzer.ScoreThreshold,
	}
}

// CoreKeyConfig converts the key section for core.LoadKey.
func (c *Config) CoreKeyConfig() core.KeyConfig {
	return core.KeyConfig{
		Source: core.KeySource(c.Key.Source),
		Env:    c.Key.Env,
		Path:   c.Key.Path,
		Cipher: core.CipherSuite(c.Redaction.Cipher),
	}
}

// CoreAuditConfig converts the audit section for core.NewAuditLogger.
func (c *Config) CoreAuditConfig() core.AuditConfig {
	return core.AuditConfig{
		Path:          c.Audit.Path,
		Level:         core.AuditLogLevel(c.Audit.Level),
		RotationSize:  int64(c.Audit.RotationMB) << 20,
		RetentionDays: c.Audit.RetentionDays,
	}
}

// PresidioTimeout returns the Presidio request timeout.
func (c *Config) PresidioTimeout() time.Duration {
	return time.Duration(c.Analyzer.PresidioTimeoutSecs) * time.Second
}

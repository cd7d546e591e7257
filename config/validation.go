package config

import (
	"fmt"
	"strings"

	"github.com/SamuelRCrider/pii-go/core"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.Analyzer.SupportedLanguages) == 0 {
		errs = append(errs, "analyzer.supported_languages must not be empty")
	}
	for _, l := range cfg.Analyzer.SupportedLanguages {
		if !languageCode.MatchString(l) {
			errs = append(errs, fmt.Sprintf("analyzer.supported_languages has invalid code %q", l))
		}
	}
	if cfg.Analyzer.ScoreThreshold < 0 || cfg.Analyzer.ScoreThreshold > 1 {
		errs = append(errs, "analyzer.score_threshold must be within [0,1]")
	}
	if !cfg.Analyzer.PredefinedRecognizers && cfg.Analyzer.RecognizersPath == "" && cfg.Analyzer.PresidioURL == "" {
		errs = append(errs, "analyzer needs predefined_recognizers, recognizers_path or presidio_url")
	}
	if cfg.Analyzer.PresidioTimeoutSecs <= 0 {
		errs = append(errs, "analyzer.presidio_timeout_seconds must be > 0")
	}

	if !oneOf(strings.ToLower(cfg.Redaction.DefaultPolicy), "fpe", "format-preserving", "entities", "mask", "simple", "replace") {
		errs = append(errs, "redaction.default_policy must be one of fpe|entities|simple")
	}
	if !oneOf(cfg.Redaction.Overlap, "skip", "merge", "reject") {
		errs = append(errs, "redaction.overlap must be one of skip|merge|reject")
	}
	if !oneOf(cfg.Redaction.Cipher, string(core.CipherAESGCM), string(core.CipherXChaCha20Poly1305)) {
		errs = append(errs, "redaction.cipher must be one of aes-gcm|xchacha20-poly1305")
	}
	if cfg.Redaction.MaskFormat != "" && !strings.Contains(cfg.Redaction.MaskFormat, "%s") {
		errs = append(errs, "redaction.mask_format must contain %s")
	}

	switch cfg.Key.Source {
	case "env", "generate":
	case "file":
		if cfg.Key.Path == "" {
			errs = append(errs, "key.path is required when key.source is file")
		}
	default:
		errs = append(errs, "key.source must be one of env|file|generate")
	}

	if cfg.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be > 0")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server.rate_limit_per_minute cannot be negative")
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		errs = append(errs, "audit.path is required when audit is enabled")
	}
	if !oneOf(cfg.Audit.Level, "minimal", "standard", "verbose") {
		errs = append(errs, "audit.level must be one of minimal|standard|verbose")
	}
	if cfg.Audit.RotationMB < 0 || cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.rotation_mb and audit.retention_days cannot be negative")
	}

	if len(errs) > 0 {
		return &core.ConfigurationError{
			Field:   "config",
			Message: "validation failed: " + strings.Join(errs, "; "),
		}
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}

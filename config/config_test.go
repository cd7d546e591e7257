package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/pii-go/core"
)

// noEnvFile points Load at a .env that does not exist
func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Redaction.DefaultPolicy, cfg.Redaction.DefaultPolicy)
	assert.Equal(t, def.Redaction.Overlap, cfg.Redaction.Overlap)
	assert.Equal(t, def.Analyzer.SupportedLanguages, cfg.Analyzer.SupportedLanguages)
	assert.Equal(t, core.DefaultScoreThreshold, cfg.Analyzer.ScoreThreshold)
	assert.Equal(t, def.Server.MaxBodyBytes, cfg.Server.MaxBodyBytes)
	assert.Equal(t, "generate", cfg.Key.Source)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pii.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analyzer:
  supported_languages: [en, de]
redaction:
  default_policy: simple
  overlap: reject
  marker: "***"
server:
  addr: ":9000"
`), 0o600))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PII_SERVER_ADDR=:9100\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PII_SERVER_ADDR") })
	t.Setenv("PII_REDACTION_OVERLAP", "merge")

	cfg, err := Load(LoadOptions{
		ConfigPath:    path,
		EnvFile:       envFile,
		FlagOverrides: map[string]any{"redaction.default_policy": "entities"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "de"}, cfg.Analyzer.SupportedLanguages, "file")
	assert.Equal(t, "***", cfg.Redaction.Marker, "file")
	assert.Equal(t, "merge", cfg.Redaction.Overlap, "env beats file")
	assert.Equal(t, ":9100", cfg.Server.Addr, ".env beats file")
	assert.Equal(t, "entities", cfg.Redaction.DefaultPolicy, "flag beats file")
	assert.Equal(t, DefaultConfig().Server.RateLimitPerMinute, cfg.Server.RateLimitPerMinute, "default")
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	t.Setenv("PII_REDACTION_CIPHER", "aes-gcm")

	cfg, err := Load(LoadOptions{
		EnvFile:       noEnvFile(t),
		FlagOverrides: map[string]any{"redaction.cipher": "xchacha20-poly1305"},
	})
	require.NoError(t, err)
	assert.Equal(t, "xchacha20-poly1305", cfg.Redaction.Cipher)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	var cfgErr *core.ConfigurationError

	toml := filepath.Join(dir, "pii.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1\n"), 0o600))
	_, err := Load(LoadOptions{ConfigPath: toml, EnvFile: noEnvFile(t)})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Load(LoadOptions{ConfigPath: filepath.Join(dir, "absent.yaml"), EnvFile: noEnvFile(t)})
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("redaction:\n  overlap: shuffle\n"), 0o600))
	_, err = Load(LoadOptions{ConfigPath: bad, EnvFile: noEnvFile(t)})
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "redaction.overlap")
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"pii.yaml", "pii.yml", "pii.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Redaction.DefaultPolicy = "entities"
			cfg.Redaction.Placeholders = map[string]string{"EMAIL_ADDRESS": "<EMAIL>"}
			cfg.Analyzer.Entities = []string{"EMAIL_ADDRESS", "PHONE_NUMBER"}
			cfg.Server.RateLimitPerMinute = 5

			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Save(cfg, path))

			loaded, err := Load(LoadOptions{ConfigPath: path, EnvFile: noEnvFile(t)})
			require.NoError(t, err)
			assert.Equal(t, "entities", loaded.Redaction.DefaultPolicy)
			assert.Equal(t, cfg.Analyzer.Entities, loaded.Analyzer.Entities)
			assert.Equal(t, 5, loaded.Server.RateLimitPerMinute)
			mask := core.Mask{Placeholders: loaded.Redaction.Placeholders}
			assert.Equal(t, "<EMAIL>", mask.Placeholder("EMAIL_ADDRESS"))
		})
	}

	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, Save(DefaultConfig(), filepath.Join(t.TempDir(), "pii.ini")), &cfgErr)
}

func TestAddLanguage(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.AddLanguage("fr"))
	require.NoError(t, cfg.AddLanguage("pt-BR"))
	require.NoError(t, cfg.AddLanguage("EN"))
	assert.Equal(t, []string{"en", "es", "fr", "pt-BR"}, cfg.Analyzer.SupportedLanguages)

	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, cfg.AddLanguage("english"), &cfgErr)
	assert.ErrorAs(t, cfg.AddLanguage(""), &cfgErr)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no languages", func(c *Config) { c.Analyzer.SupportedLanguages = nil }, "analyzer.supported_languages"},
		{"threshold", func(c *Config) { c.Analyzer.ScoreThreshold = 1.5 }, "analyzer.score_threshold"},
		{"no analyzer", func(c *Config) { c.Analyzer.PredefinedRecognizers = false }, "predefined_recognizers"},
		{"policy", func(c *Config) { c.Redaction.DefaultPolicy = "shred" }, "redaction.default_policy"},
		{"cipher", func(c *Config) { c.Redaction.Cipher = "des" }, "redaction.cipher"},
		{"mask format", func(c *Config) { c.Redaction.MaskFormat = "<MASK>" }, "redaction.mask_format"},
		{"key file without path", func(c *Config) { c.Key.Source = "file" }, "key.path"},
		{"key source", func(c *Config) { c.Key.Source = "vault" }, "key.source"},
		{"body size", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.max_body_bytes"},
		{"audit level", func(c *Config) { c.Audit.Level = "chatty" }, "audit.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Message, tt.field)
			assert.Equal(t, core.ErrorCategoryConfiguration, core.Categorize(err))
		})
	}
}

func TestCoreConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analyzer.AllowList = []string{"ACME"}

	opts := cfg.AnalyzeOptions()
	assert.Equal(t, []string{"ACME"}, opts.AllowList)
	assert.Equal(t, cfg.Analyzer.ScoreThreshold, opts.ScoreThreshold)

	key := cfg.CoreKeyConfig()
	assert.Equal(t, core.KeySourceGenerate, key.Source)
	assert.Equal(t, core.CipherAESGCM, key.Cipher)

	audit := cfg.CoreAuditConfig()
	assert.Equal(t, int64(100)<<20, audit.RotationSize)
	assert.Equal(t, core.AuditLogLevelStandard, audit.Level)
}

package main

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/config"
	"github.com/SamuelRCrider/pii-go/utils"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configPath  string
	envFile     string
	recognizers string
	presidioURL string
	logLevel    string
	keyFile     string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	root := &cobra.Command{
		Use:   "piiredact",
		Short: "Detect and redact personally identifiable information",
		Long: `piiredact finds PII such as emails, phone numbers, card and account
numbers in text and replaces it with a marker, an entity placeholder, or
format-preserving obfuscated characters.

Configuration is layered: built-in defaults, then --config, then PII_*
environment variables (a .env file is loaded first), then flags.`,
		Example: `  piiredact analyze "mail jane@example.com"
  echo "card 4111 1111 1111 1111" | piiredact anonymize --policy entities
  piiredact serve --addr :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "config file (.yaml, .yml or .json)")
	pf.StringVar(&o.envFile, "env-file", "", "env file to load before reading PII_* variables (default .env)")
	pf.StringVar(&o.recognizers, "recognizers", "", "YAML file with custom recognizers")
	pf.StringVar(&o.presidioURL, "presidio-url", "", "base URL of a Presidio analyzer to combine with local recognizers")
	pf.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&o.keyFile, "key-file", "", "read the obfuscation key from this file")

	root.AddCommand(
		newAnalyzeCmd(o),
		newAnonymizeCmd(o),
		newServeCmd(o),
		newMCPCmd(o),
		newKeygenCmd(),
		newConfigCmd(o),
	)
	return root
}

// loadConfig resolves the effective configuration. extra holds overrides
// contributed by subcommand flags.
func (o *rootOptions) loadConfig(extra map[string]any) (*config.Config, error) {
	overrides := map[string]any{}
	if o.recognizers != "" {
		overrides["analyzer.recognizers_path"] = o.recognizers
	}
	if o.presidioURL != "" {
		overrides["analyzer.presidio_url"] = o.presidioURL
	}
	if o.logLevel != "" {
		overrides["log.level"] = o.logLevel
	}
	if o.keyFile != "" {
		overrides["key.source"] = "file"
		overrides["key.path"] = o.keyFile
	}
	for k, v := range extra {
		overrides[k] = v
	}

	return config.Load(config.LoadOptions{
		ConfigPath:    o.configPath,
		EnvFile:       o.envFile,
		FlagOverrides: overrides,
	})
}

// newService loads the configuration and builds a Service logging to the
// command's error stream.
func (o *rootOptions) newService(cmd *cobra.Command, extra map[string]any) (*pii.Service, *log.Logger, error) {
	cfg, err := o.loadConfig(extra)
	if err != nil {
		return nil, nil, err
	}

	logOpts := utils.DefaultLoggerOptions()
	logOpts.Output = cmd.ErrOrStderr()
	logOpts.Level = cfg.Log.Level
	logOpts.JSON = cfg.Log.JSON
	logger := utils.InitLogger(logOpts)

	svc, err := pii.New(cfg, pii.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}

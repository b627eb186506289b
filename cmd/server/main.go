package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/soaringjerry/imagechat/internal/config"
	"github.com/soaringjerry/imagechat/internal/utils"
)

// Set with -ldflags "-X main.commit=... -X main.buildTime=..."; the environment fills them otherwise.
var (
	commit    string
	buildTime string
)

type rootOptions struct {
	configPath string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("imagechat failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "imagechat",
		Short:         "Image generation chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", utils.SafeEnv("IMAGECHAT_CONFIG", ""), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	root.AddCommand(newServeCmd(opts), newSeedCmd(opts))
	return root
}

// load reads the configuration and installs the global logger from it.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	log.Logger = newLogger(cfg.Logging, os.Stderr)
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func buildInfo() (string, string) {
	c, b := commit, buildTime
	if c == "" {
		c = utils.SafeEnv("IMAGECHAT_COMMIT", "dev")
	}
	if b == "" {
		b = utils.SafeEnv("IMAGECHAT_BUILD_TIME", "")
	}
	return c, b
}

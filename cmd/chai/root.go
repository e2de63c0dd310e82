package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/chai-tokenizer/config"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/telemetry"
)

var (
	cfgFile   string
	activeCfg config.Config
	loaded    bool

	telemetryShutdown func(context.Context) error
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "chai",
		Short:         "Tokenize text and decode token ids for LLM models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			activeCfg = cfg
			loaded = true

			logging.Configure(os.Stderr, cfg.Log.Format, cfg.Log.Level)
			return setupTelemetry(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newLiveCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func requireConfig() (config.Config, error) {
	if !loaded {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

func setupTelemetry(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
		Disable:     cfg.Telemetry.Disable,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Writer:      os.Stderr,
	})
	if err != nil {
		return err
	}
	telemetryShutdown = shutdown
	return nil
}

func shutdownTelemetry() error {
	if telemetryShutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := telemetryShutdown(ctx)
	telemetryShutdown = nil
	return err
}

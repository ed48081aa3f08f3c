package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"xledger/internal/infrastructure/config"
	"xledger/internal/infrastructure/logger"
	"xledger/internal/infrastructure/svc"
)

// rootConfig is shared by every subcommand; cfg is loaded once in
// PersistentPreRunE.
type rootConfig struct {
	configPath string
	noColor    bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "xledger",
		Short:         "Exchange activity sync and reconciliation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rc.configPath)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat); err != nil {
				return err
			}
			rc.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&rc.configPath, "config", "configs/config.toml", "path to config.toml")
	cmd.PersistentFlags().BoolVar(&rc.noColor, "no-color", false, "disable ANSI colors in console output")

	cmd.AddCommand(
		newServeCmd(rc),
		newSyncCmd(rc),
		newImportCmd(rc),
		newExportCmd(rc),
		newQueryCmd(rc),
	)
	return cmd
}

// open builds the service context under a signal-aware context. The
// returned stop func must be called after sc.Close.
func (rc *rootConfig) open(opts svc.Options) (*svc.ServiceContext, context.CancelFunc, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	sc, err := svc.New(ctx, rc.cfg, opts)
	if err != nil {
		stop()
		log.Error().Err(err).Str("config", rc.configPath).Msg("service context init failed")
		return nil, nil, err
	}
	return sc, stop, nil
}

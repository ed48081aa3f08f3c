package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"xledger/internal/application/usecase/autosync"
	"xledger/internal/infrastructure/svc"
	"xledger/internal/interfaces/httpapi"
)

func newServeCmd(rc *rootConfig) *cobra.Command {
	var syncAtStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, run-event websocket and periodic sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, stop, err := rc.open(svc.Options{})
			if err != nil {
				return err
			}
			defer stop()
			defer sc.Close()

			cfg := sc.Config
			c := sc.Container()
			syncSvc := c.SyncService()

			srv := &http.Server{
				Addr: cfg.HTTP.Addr,
				Handler: httpapi.NewRouter(httpapi.Deps{
					Query:          c.QueryService(),
					Reconcile:      c.ReconcileService(),
					Transfer:       c.TransferService(),
					Sync:           syncSvc,
					Events:         sc.Hub(),
					RatePerSecond:  cfg.HTTP.RatePerSecond,
					Burst:          cfg.HTTP.Burst,
					MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			g, ctx := errgroup.WithContext(sc.Ctx)
			g.Go(func() error {
				log.Info().Str("addr", srv.Addr).Msg("xledger api listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				log.Info().Msg("shutting down http server")
				return srv.Shutdown(shutdownCtx)
			})
			if syncSvc != nil {
				g.Go(func() error {
					err := autosync.NewService(autosync.ServiceDeps{
						Sync:       syncSvc,
						Interval:   cfg.SyncInterval(),
						RunAtStart: syncAtStart,
					}).Run(ctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}

			log.Info().
				Str("config", rc.configPath).
				Str("account", cfg.App.Account).
				Dur("sync_interval", cfg.SyncInterval()).
				Msg("xledger started")

			if err := g.Wait(); err != nil {
				log.Error().Err(err).Msg("xledger exited")
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&syncAtStart, "sync-at-start", false, "trigger one sync as soon as the server is up")
	return cmd
}

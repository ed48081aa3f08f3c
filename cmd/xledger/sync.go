package main

import (
	"os"

	"github.com/spf13/cobra"

	"xledger/internal/application/port"
	"xledger/internal/application/service"
	"xledger/internal/domain/model"
	"xledger/internal/infrastructure/svc"
	"xledger/internal/interfaces/console"
)

func newSyncCmd(rc *rootConfig) *cobra.Command {
	var (
		since string
		pairs []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync in the foreground with live progress",
		Long: `Fetches activity from the configured exchange and ingests it into the ledger.

Without --since the run resumes from the account checkpoint. A run restricted
by --pair never moves the checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sinceAt, err := parseTimeFlag("since", since)
			if err != nil {
				return err
			}

			sink := console.NewSink(os.Stdout, !rc.noColor)
			sc, stop, err := rc.open(svc.Options{Sinks: []port.RunEventSink{sink}})
			if err != nil {
				return err
			}
			defer stop()
			defer sc.Close()

			syncSvc, err := sc.SyncService()
			if err != nil {
				return err
			}
			run, err := syncSvc.Run(sc.Ctx, service.SyncRequest{Since: sinceAt, Pairs: pairs})
			if err != nil {
				return err
			}
			if run.Status == model.RunCancelled {
				return sc.Ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "fetch from this instant instead of the checkpoint")
	cmd.Flags().StringSliceVar(&pairs, "pair", nil, "restrict to these pairs (repeatable)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xledger/internal/infrastructure/svc"
	"xledger/internal/interfaces/console"
)

func newQueryCmd(rc *rootConfig) *cobra.Command {
	var (
		filters filterFlags
		limit   int
		cursor  string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List one page of the ledger with metrics over the filtered set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := filters.request()
			if err != nil {
				return err
			}
			req.Limit = limit
			req.Cursor = cursor

			sc, stop, err := rc.open(svc.Options{})
			if err != nil {
				return err
			}
			defer stop()
			defer sc.Close()

			res, err := sc.Container().QueryService().Query(sc.Ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, console.RenderTable(res.Items, !rc.noColor))
			fmt.Fprintln(out, console.RenderMetrics(res.Metrics))
			if res.NextCursor != "" {
				fmt.Fprintf(out, "next: --cursor %s\n", res.NextCursor)
			}
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default from config)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after a previous page")
	return cmd
}

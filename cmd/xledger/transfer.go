package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"xledger/internal/infrastructure/csvio"
	"xledger/internal/infrastructure/svc"
)

func newImportCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv|->",
		Short: "Import a CSV of exchange activity through the sync pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			reader, err := csvio.NewReader(src)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			sc, stop, err := rc.open(svc.Options{})
			if err != nil {
				return err
			}
			defer stop()
			defer sc.Close()

			res, err := sc.Container().TransferService().Import(sc.Ctx, reader)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported=%d duplicates=%d updated=%d errored=%d\n",
				res.Imported, res.Duplicates, res.Updated, res.Errored)
			for _, d := range res.Diagnostics {
				fmt.Fprintf(out, "  %s\n", d)
			}
			return err
		},
	}
}

func newExportCmd(rc *rootConfig) *cobra.Command {
	var (
		filters filterFlags
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the filtered ledger as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := filters.request()
			if err != nil {
				return err
			}

			sc, stop, err := rc.open(svc.Options{})
			if err != nil {
				return err
			}
			defer stop()
			defer sc.Close()

			// fail on a bad filter before creating the output file
			query := sc.Container().QueryService()
			if _, err := query.Filter(req); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			n, err := sc.Container().TransferService().Export(sc.Ctx, req, csvio.NewWriter(out))
			if err != nil {
				return err
			}
			log.Info().Int("rows", n).Str("out", outPath).Msg("export finished")
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

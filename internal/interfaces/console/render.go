package console

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"xledger/internal/domain/model"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, color string, enabled bool) string {
	if !enabled {
		return s
	}
	return color + s + ansiReset
}

// RenderRun renders one status line for a run. live lines start with a
// carriage return so successive snapshots overwrite each other.
func RenderRun(run model.SyncRun, live, color bool) string {
	var sb strings.Builder
	if live {
		sb.WriteString("\r")
	}
	sb.WriteString(colorize("[XLEDGER] ", ansiDim, color))

	statusCol := ansiYellow
	switch run.Status {
	case model.RunSucceeded:
		statusCol = ansiGreen
	case model.RunFailed, model.RunCancelled:
		statusCol = ansiRed
	}
	sb.WriteString(colorize(string(run.Status), statusCol, color))

	c := run.Counts
	fmt.Fprintf(&sb, " run=%s pages=%d fetched=%d created=%d updated=%d duplicate=%d",
		run.ID, run.Pages, c.Fetched, c.Created, c.Updated, c.Duplicate)
	if c.Filtered > 0 {
		fmt.Fprintf(&sb, " filtered=%d", c.Filtered)
	}
	if c.Errored > 0 {
		sb.WriteString(" ")
		sb.WriteString(colorize(fmt.Sprintf("errored=%d", c.Errored), ansiRed, color))
	}
	if run.Error != "" {
		sb.WriteString(" ")
		sb.WriteString(colorize("error="+run.Error, ansiRed, color))
	}
	if live {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

func statusColor(s model.Status) string {
	switch s {
	case model.StatusReconciled:
		return ansiGreen
	case model.StatusError:
		return ansiRed
	case model.StatusPending:
		return ansiYellow
	}
	return ""
}

// RenderTable writes transactions as an aligned table.
func RenderTable(items []model.Transaction, color bool) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tPAIR\tTYPE\tAMOUNT\tPRICE\tTOTAL\tFEE\tSTATUS\tTAGS")
	for i := range items {
		tx := &items[i]
		status := string(tx.Status)
		if col := statusColor(tx.Status); col != "" {
			status = colorize(status, col, color)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			tx.Pair,
			tx.Type,
			tx.Amount.String(),
			tx.Price.String(),
			tx.Total.String(),
			tx.Fee.String(),
			status,
			strings.Join(tx.Tags, ","),
		)
	}
	_ = tw.Flush()
	return sb.String()
}

// RenderMetrics renders the aggregate footer of a query.
func RenderMetrics(m model.Metrics) string {
	return fmt.Sprintf("count=%d buy=%s sell=%s fees=%s", m.Count, m.BuyVolume.String(), m.SellVolume.String(), m.Fees.String())
}

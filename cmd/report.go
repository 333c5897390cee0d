package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/JakeFAU/poi-grid-crawler/internal/coordinator"
)

// printReport writes the run summary table. Output errors are ignored; the
// structured logs carry the same numbers.
func printReport(out io.Writer, report coordinator.RunReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AREA\tSTATUS\tTASKS\tDONE\tNEW\tREJECTED\tDUPLICATES\tFAILED\tLOST\tDURATION")
	for _, a := range report.Areas {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			a.Name, a.Status, a.Tasks, a.Completed, a.Discovered, a.Rejected,
			a.Duplicates, a.Failed, a.PersistFailures, a.Duration.Round(time.Second))
	}
	_ = tw.Flush() //nolint:errcheck // best-effort console output
	fmt.Fprintf(out, "run %s: %d areas (%d skipped), %d new places, %d known before start\n",
		report.RunID, len(report.Areas), report.SkippedAreas, report.Discovered, report.Seeded)
}

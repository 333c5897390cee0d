package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/poi-grid-crawler/internal/areas"
	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/grid"
)

// newPlanCmd creates the 'plan' subcommand, which sizes a crawl without
// launching a browser.
func newPlanCmd() *cobra.Command {
	var (
		names []string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print grid and task counts per area without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				names = e.cfg.Areas.Names
			}
			if limit == 0 {
				limit = e.cfg.Areas.Limit
			}
			all, err := areas.Load(e.cfg.Areas.Path)
			if err != nil {
				return fmt.Errorf("load areas: %w", err)
			}
			planner, err := grid.NewPlanner(e.cfg.Grid.StepDegrees)
			if err != nil {
				return fmt.Errorf("init planner: %w", err)
			}
			return printPlan(cmd.OutOrStdout(), planner, areas.Select(all, names, limit), len(e.cfg.Crawler.Keywords))
		},
	}
	cmd.Flags().StringSliceVar(&names, "area", nil, "only plan these areas (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "plan at most this many areas")
	return cmd
}

func printPlan(out io.Writer, planner *grid.Planner, selected []crawler.Area, keywords int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AREA\tRADIUS_KM\tROWS\tCOLS\tCELLS\tTASKS")
	totalCells, totalTasks := 0, 0
	for _, a := range selected {
		rows, cols := planner.Dimensions(a)
		cells := planner.Count(a)
		totalCells += cells
		totalTasks += cells * keywords
		fmt.Fprintf(tw, "%s\t%.0f\t%d\t%d\t%d\t%d\n", a.Name, a.RadiusKM(), rows, cols, cells, cells*keywords)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%d\t%d\n", totalCells, totalTasks)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

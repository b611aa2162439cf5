package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/session"
	"github.com/warp/prg-engine/workbook"
)

func newCheckCmd(a *app) *cobra.Command {
	var grsCSV string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the consistency checks over the workbook",
		Long: `Reports pipelines without consumers in their settlement, consumers without
bindings, consumers without expenses, organizations whose GRS reference
disagrees with their bindings, and share totals other than 1.`,
		Example: `  # Check and export the GRS mismatches for the operator
  prg check --grs-csv mismatches.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closer, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			report := s.Check()
			out := cmd.OutOrStdout()
			renderCheckReport(out, report)

			if grsCSV != "" {
				if err := workbook.WriteMismatchesCSVFile(grsCSV, report.GRSMismatches); err != nil {
					return err
				}
				fmt.Fprintf(out, "GRS mismatches written to %s\n", grsCSV)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&grsCSV, "grs-csv", "", "also write the GRS mismatches to this CSV file")
	return cmd
}

func renderCheckReport(out io.Writer, r *session.CheckReport) {
	if r.Clean() {
		fmt.Fprintln(out, "No problems found.")
		return
	}

	section(out, "Pipelines without consumers", len(r.UnboundPipelines))
	for _, p := range r.UnboundPipelines {
		fmt.Fprintf(out, "  %s (%s, %s)\n", p.PipelineID, p.District, p.Settlement)
	}

	section(out, "Consumers without bindings", len(r.UnboundConsumers))
	for _, c := range r.UnboundConsumers {
		fmt.Fprintf(out, "  %s\n", consumerLabel(c))
	}

	section(out, "Consumers without expenses", len(r.WithoutExpenses))
	for _, c := range r.WithoutExpenses {
		fmt.Fprintf(out, "  %s\n", consumerLabel(c))
	}

	section(out, "GRS mismatches", len(r.GRSMismatches))
	for _, m := range r.GRSMismatches {
		fmt.Fprintf(out, "  %s: %s (reference %q, binding %q)\n",
			consumerLabel(m.Consumer), m.Issue, m.GRSByReference, m.GRSInCode)
	}

	section(out, "Share totals", len(r.ShareProblems))
	for _, p := range r.ShareProblems {
		printer.Fprintf(out, "  %s: %s, total %.4f\n", consumerLabel(p.Consumer), p.Kind, p.TotalShare)
	}
}

func section(out io.Writer, title string, n int) {
	if n == 0 {
		return
	}
	fmt.Fprintf(out, "%s: %d\n", title, n)
}

// consumerLabel names a consumer for reports. Population rows carry no name.
func consumerLabel(c allocation.Consumer) string {
	name := c.Name
	if name == "" {
		name = c.Settlement
	}
	return fmt.Sprintf("%s [%s, %s row %d]", name, c.Kind, c.District, c.Origin.Row+1)
}

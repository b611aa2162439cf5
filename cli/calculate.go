package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/session"
)

const tabPadding = 2

// printer formats load figures with Russian digit grouping, as in the workbook.
var printer = message.NewPrinter(language.Russian)

func newCalculateCmd(a *app) *cobra.Command {
	var doSave bool

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Recalculate pipeline loads from the current bindings",
		Example: `  # Print recalculated loads
  prg calculate --workbook ПРГ.xlsx

  # Recalculate and write the loads back to the workbook
  prg calculate --save`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, closer, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			calc := s.CalculateLoads()
			out := cmd.OutOrStdout()
			if err := renderLoads(out, s.Pipelines(), calc); err != nil {
				return err
			}
			if !doSave {
				return nil
			}
			return save(ctx, out, s)
		},
	}

	cmd.Flags().BoolVar(&doSave, "save", false, "write the changed load cells to the workbook")
	return cmd
}

func newAutoBindCmd(a *app) *cobra.Command {
	var (
		share  float64
		doSave bool
	)

	cmd := &cobra.Command{
		Use:   "auto-bind",
		Short: "Bind unbound consumers to the pipelines of their settlement",
		Long: `Binds every consumer that has expenses and no binding at all to each
pipeline of its settlement. Consumers that already have any binding are left
alone. The share defaults to binding.auto_bind_share.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if share < 0 || share > 1 {
				return fmt.Errorf("share must be in (0, 1], got %v", share)
			}
			ctx := cmd.Context()
			s, closer, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			res := s.AutoBind(share)
			out := cmd.OutOrStdout()
			renderBindingResult(out, res)
			if !doSave {
				return nil
			}
			return save(ctx, out, s)
		},
	}

	cmd.Flags().Float64Var(&share, "share", 0, "share per binding (0 uses binding.auto_bind_share)")
	cmd.Flags().BoolVar(&doSave, "save", false, "write the new bindings to the workbook")
	return cmd
}

// =============================================================================
// RENDERING
// =============================================================================

func renderLoads(out io.Writer, pipelines []allocation.Pipeline, calc *session.LoadCalculation) error {
	w := tabwriter.NewWriter(out, 0, 0, tabPadding, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PIPELINE\tGRS\tYEARLY POP\tHOURLY POP\tYEARLY ORG\tHOURLY ORG\tYEARLY TOTAL\tHOURLY PEAK\t")
	for _, p := range pipelines {
		l := p.Loads
		printer.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			p.PipelineID, p.GRSID,
			l.YearlyPopulation, l.HourlyPopulation,
			l.YearlyOrganization, l.HourlyOrganization,
			l.YearlyTotal, l.HourlyPeakTotal)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nConsumers: %d, bindings: %d, pipelines updated: %d, changed cells: %d\n",
		calc.ProcessedConsumers, calc.ProcessedBindings, calc.Updated, len(calc.Changes))
	for _, id := range calc.UnknownPipelineIDs {
		fmt.Fprintf(out, "  unknown pipeline in bindings: %s\n", id)
	}
	for _, e := range calc.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
	return nil
}

func renderBindingResult(out io.Writer, res *allocation.BindingResult) {
	fmt.Fprintf(out, "Bound: %d, skipped: %d, already bound: %d, failed: %d\n",
		res.SuccessCount, res.SkippedCount, res.AlreadyBoundCount, res.FailedCount())
	for _, d := range res.Details {
		fmt.Fprintf(out, "  %s\n", d)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}

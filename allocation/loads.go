/*
loads.go - Pipeline load aggregation

PURPOSE:
  Pipeline loads are derived data: they are recomputed from the complete
  consumer set every time, never adjusted incrementally. For each binding
  of each consumer with expenses:

    yearly[pipeline] += consumer.yearly * share
    hourly[pipeline] += consumer.hourly * share

  into the population or organization accumulators depending on the
  consumer kind. Applying the result sets the totals to the sum of the two
  components and zeroes every pipeline no binding refers to, so a pipeline
  that lost its last consumer does not keep a stale load.

SEE ALSO:
  - expenses.go: yearly and hourly resolution
*/
package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PipelineLoad accumulates the four independent load components.
type PipelineLoad struct {
	YearlyPopulation   float64
	HourlyPopulation   float64
	YearlyOrganization float64
	HourlyOrganization float64
}

// Loads expands the accumulators into the six pipeline load fields.
func (l PipelineLoad) Loads() Loads {
	return Loads{
		YearlyPopulation:   l.YearlyPopulation,
		HourlyPopulation:   l.HourlyPopulation,
		YearlyOrganization: l.YearlyOrganization,
		HourlyOrganization: l.HourlyOrganization,
		YearlyTotal:        l.YearlyPopulation + l.YearlyOrganization,
		HourlyPeakTotal:    l.HourlyPopulation + l.HourlyOrganization,
	}
}

type CalculationResult struct {
	// Loads is keyed by pipeline ID as written in the binding codes.
	Loads map[string]PipelineLoad

	ProcessedConsumers int
	ProcessedBindings  int

	// UnknownPipelineIDs lists binding targets that are not among the known
	// pipelines. Their loads are computed but cannot be applied.
	UnknownPipelineIDs []string

	Errors  []string
	Details []string
}

// CalculatePipelineLoads aggregates loads over all consumers. Consumers
// without expenses or without bindings contribute nothing.
func CalculatePipelineLoads(pipelines []Pipeline, consumers []Consumer) *CalculationResult {
	res := &CalculationResult{Loads: make(map[string]PipelineLoad)}

	// Binding IDs resolve to the pipeline's own spelling; unknown IDs stay as written.
	canonical := make(map[string]string, len(pipelines))
	for _, p := range pipelines {
		canonical[normalizeKey(p.PipelineID)] = p.PipelineID
	}

	for i := range consumers {
		c := &consumers[i]
		func() {
			defer func() {
				if p := recover(); p != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: unexpected failure: %v", c.Name, p))
				}
			}()
			accumulate(res, canonical, c)
		}()
	}

	known := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		known[p.PipelineID] = true
	}
	for id := range res.Loads {
		if !known[id] {
			res.UnknownPipelineIDs = append(res.UnknownPipelineIDs, id)
		}
	}
	sort.Strings(res.UnknownPipelineIDs)

	res.Details = append(res.Details, fmt.Sprintf(
		"processed %d consumers, %d bindings, %d pipelines loaded",
		res.ProcessedConsumers, res.ProcessedBindings, len(res.Loads)))
	for _, id := range res.UnknownPipelineIDs {
		res.Details = append(res.Details, fmt.Sprintf("binding refers to unknown PRG %s", id))
	}
	return res
}

// accumulate adds one consumer's contributions. Bindings of a consumer whose
// kind is neither population nor organization are counted but add nothing.
func accumulate(res *CalculationResult, canonical map[string]string, c *Consumer) {
	exp, ok := ResolveExpenses(*c)
	if !ok {
		return
	}
	bindings := Decode(c.BindingCode)
	if len(bindings) == 0 {
		return
	}

	res.ProcessedConsumers++
	for _, b := range bindings {
		res.ProcessedBindings++
		id, ok := canonical[normalizeKey(b.PipelineID)]
		if !ok {
			id = b.PipelineID
		}
		load := res.Loads[id]
		switch {
		case c.IsPopulation():
			load.YearlyPopulation += exp.Yearly * b.Share
			load.HourlyPopulation += exp.Hourly * b.Share
		case c.IsOrganization():
			load.YearlyOrganization += exp.Yearly * b.Share
			load.HourlyOrganization += exp.Hourly * b.Share
		default:
			continue
		}
		res.Loads[id] = load
	}
}

// ApplyLoadsToPipelines overwrites the load fields of every pipeline from
// loads. Pipelines absent from loads get all six fields set to zero.
// It returns the number of pipelines that received a computed load.
func ApplyLoadsToPipelines(pipelines []Pipeline, loads map[string]PipelineLoad) int {
	updated := 0
	for i := range pipelines {
		load, ok := loads[pipelines[i].PipelineID]
		if ok {
			updated++
		}
		pipelines[i].Loads = load.Loads()
	}
	return updated
}

// =============================================================================
// LOAD CHANGES
// =============================================================================

// LoadChanges compares pipeline loads before and after a recalculation and
// emits one change record per field whose value changed. Pipelines are
// paired by position. Fields without a known workbook column are skipped.
func (b *Binder) LoadChanges(before, after []Pipeline) []ChangeRecord {
	var changes []ChangeRecord
	n := min(len(before), len(after))
	for i := 0; i < n; i++ {
		p := after[i]
		for _, f := range LoadFields {
			col, ok := p.LoadColumns[f]
			if !ok {
				continue
			}
			oldV, newV := before[i].Loads.Get(f), p.Loads.Get(f)
			if oldV == newV {
				continue
			}
			origin := p.Origin
			origin.Column = col
			changes = append(changes, ChangeRecord{
				ID:          b.NewID(),
				Kind:        ChangeLoadCalculation,
				TargetID:    p.PipelineID,
				Origin:      origin,
				OldValue:    FormatLoad(oldV),
				NewValue:    FormatLoad(newV),
				Description: fmt.Sprintf("PRG %s %s: %s -> %s", p.PipelineID, f, FormatLoad(oldV), FormatLoad(newV)),
				CreatedAt:   b.Now(),
			})
		}
	}
	return changes
}

// FormatLoad renders a load value with '.' as the decimal point.
// The workbook writer stores load changes as numbers.
func FormatLoad(v float64) string {
	return decimal.NewFromFloat(v).String()
}

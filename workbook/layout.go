/*
Package workbook reads and writes the PRG workbook.

PURPOSE:
  The workbook is the only store of record. Load turns the configured
  sheets into an allocation.Dataset; Writer.Apply writes committed change
  records back into the cells they came from. Nothing is written until the
  user commits.

LAYOUT:
  Every table is described by a sheet name, a one-based start row and
  column letters. Defaults match the layout the operators already use:

    PRG:           district A, settlement B, PRG id C, GRS id D, loads E..J
    GRS:           district A, id B, name C
    Population:    district A, settlement B, binding M, yearly N, hourly O
    Organizations: name D, district A, settlement B, GRS id L,
                   binding M, yearly N, hourly O

SEE ALSO:
  - loader.go: sheet parsing
  - writer.go: backup and write-back
*/
package workbook

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/prg-engine/allocation"
)

const DefaultStartRow = 10

// Layout describes where each table lives in the workbook.
type Layout struct {
	Pipelines     PipelineTable     `yaml:"pipelines"`
	GRS           GRSTable          `yaml:"grs"`
	Population    PopulationTable   `yaml:"population"`
	Organizations OrganizationTable `yaml:"organizations"`
}

type PipelineTable struct {
	Sheet    string `yaml:"sheet"`
	StartRow int    `yaml:"start_row"`

	District   string `yaml:"district_col"`
	Settlement string `yaml:"settlement_col"`
	PipelineID string `yaml:"prg_id_col"`
	GRSID      string `yaml:"grs_id_col"`

	YearlyPopulation   string `yaml:"yearly_population_col"`
	HourlyPopulation   string `yaml:"hourly_population_col"`
	YearlyOrganization string `yaml:"yearly_organization_col"`
	HourlyOrganization string `yaml:"hourly_organization_col"`
	YearlyTotal        string `yaml:"yearly_total_col"`
	HourlyPeakTotal    string `yaml:"hourly_peak_total_col"`
}

// LoadColumns maps each load field to its column letter.
func (t PipelineTable) LoadColumns() map[allocation.LoadField]string {
	return map[allocation.LoadField]string{
		allocation.FieldYearlyPopulation:   t.YearlyPopulation,
		allocation.FieldHourlyPopulation:   t.HourlyPopulation,
		allocation.FieldYearlyOrganization: t.YearlyOrganization,
		allocation.FieldHourlyOrganization: t.HourlyOrganization,
		allocation.FieldYearlyTotal:        t.YearlyTotal,
		allocation.FieldHourlyPeakTotal:    t.HourlyPeakTotal,
	}
}

type GRSTable struct {
	Sheet    string `yaml:"sheet"`
	StartRow int    `yaml:"start_row"`

	District string `yaml:"district_col"`
	ID       string `yaml:"grs_id_col"`
	Name     string `yaml:"grs_name_col"`
}

type PopulationTable struct {
	Sheet    string `yaml:"sheet"`
	StartRow int    `yaml:"start_row"`

	District      string `yaml:"district_col"`
	Settlement    string `yaml:"settlement_col"`
	BindingCode   string `yaml:"code_col"`
	YearlyExpense string `yaml:"expenses_col"`
	HourlyExpense string `yaml:"hourly_expenses_col"`
}

type OrganizationTable struct {
	Sheet    string `yaml:"sheet"`
	StartRow int    `yaml:"start_row"`

	Name          string `yaml:"name_col"`
	District      string `yaml:"district_col"`
	Settlement    string `yaml:"settlement_col"`
	BindingCode   string `yaml:"code_col"`
	YearlyExpense string `yaml:"expenses_col"`
	HourlyExpense string `yaml:"hourly_expenses_col"`
	GRSReference  string `yaml:"grs_id_col"`
}

// DefaultLayout returns the layout of the standard PRG workbook.
func DefaultLayout() Layout {
	return Layout{
		Pipelines: PipelineTable{
			Sheet: "ПРГ", StartRow: DefaultStartRow,
			District: "A", Settlement: "B", PipelineID: "C", GRSID: "D",
			YearlyPopulation: "E", HourlyPopulation: "F",
			YearlyOrganization: "G", HourlyOrganization: "H",
			YearlyTotal: "I", HourlyPeakTotal: "J",
		},
		GRS: GRSTable{
			Sheet: "ГРС", StartRow: DefaultStartRow,
			District: "A", ID: "B", Name: "C",
		},
		Population: PopulationTable{
			Sheet: "Население", StartRow: DefaultStartRow,
			District: "A", Settlement: "B",
			BindingCode: "M", YearlyExpense: "N", HourlyExpense: "O",
		},
		Organizations: OrganizationTable{
			Sheet: "Организации", StartRow: DefaultStartRow,
			Name: "D", District: "A", Settlement: "B", GRSReference: "L",
			BindingCode: "M", YearlyExpense: "N", HourlyExpense: "O",
		},
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks every sheet name, start row and column letter.
// All problems are returned together.
func (l Layout) Validate() error {
	var errs []error

	check := func(table, sheet string, startRow int, cols map[string]string) {
		if sheet == "" {
			errs = append(errs, fmt.Errorf("%s: sheet is required", table))
		}
		if startRow < 1 {
			errs = append(errs, fmt.Errorf("%s: start_row must be >= 1, got %d", table, startRow))
		}
		for name, letter := range cols {
			if _, err := columnIndex(letter); err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", table, name, err))
			}
		}
	}

	p := l.Pipelines
	check("pipelines", p.Sheet, p.StartRow, map[string]string{
		"district_col": p.District, "settlement_col": p.Settlement,
		"prg_id_col": p.PipelineID, "grs_id_col": p.GRSID,
		"yearly_population_col": p.YearlyPopulation, "hourly_population_col": p.HourlyPopulation,
		"yearly_organization_col": p.YearlyOrganization, "hourly_organization_col": p.HourlyOrganization,
		"yearly_total_col": p.YearlyTotal, "hourly_peak_total_col": p.HourlyPeakTotal,
	})
	g := l.GRS
	check("grs", g.Sheet, g.StartRow, map[string]string{
		"district_col": g.District, "grs_id_col": g.ID, "grs_name_col": g.Name,
	})
	pop := l.Population
	check("population", pop.Sheet, pop.StartRow, map[string]string{
		"district_col": pop.District, "settlement_col": pop.Settlement,
		"code_col": pop.BindingCode, "expenses_col": pop.YearlyExpense, "hourly_expenses_col": pop.HourlyExpense,
	})
	org := l.Organizations
	check("organizations", org.Sheet, org.StartRow, map[string]string{
		"name_col": org.Name, "district_col": org.District, "settlement_col": org.Settlement,
		"code_col": org.BindingCode, "expenses_col": org.YearlyExpense,
		"hourly_expenses_col": org.HourlyExpense, "grs_id_col": org.GRSReference,
	})

	return errors.Join(errs...)
}

// columnIndex converts a column letter ("A", "AB") to a zero-based index.
func columnIndex(letter string) (int, error) {
	n, err := excelize.ColumnNameToNumber(letter)
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/prg-engine/allocation"
)

// Export writes a dataset into a new workbook laid out by layout. Records
// are written from each table's start row in slice order; their Origin is
// ignored. Loading the result yields the same records with fresh origins.
func Export(path string, layout Layout, ds *allocation.Dataset) error {
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), layout.Pipelines.Sheet); err != nil {
		return err
	}
	for _, sheet := range []string{layout.GRS.Sheet, layout.Population.Sheet, layout.Organizations.Sheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	x := exporter{f: f}

	p := layout.Pipelines
	for i, pl := range ds.Pipelines {
		row := p.StartRow + i
		x.set(p.Sheet, p.District, row, pl.District)
		x.set(p.Sheet, p.Settlement, row, pl.Settlement)
		x.set(p.Sheet, p.PipelineID, row, pl.PipelineID)
		x.set(p.Sheet, p.GRSID, row, pl.GRSID)
		for field, col := range p.LoadColumns() {
			x.set(p.Sheet, col, row, pl.Loads.Get(field))
		}
	}

	g := layout.GRS
	for i, grs := range ds.GRS {
		row := g.StartRow + i
		x.set(g.Sheet, g.District, row, grs.District)
		x.set(g.Sheet, g.ID, row, grs.ID)
		x.set(g.Sheet, g.Name, row, grs.Name)
	}

	pop, org := layout.Population, layout.Organizations
	popRow, orgRow := pop.StartRow, org.StartRow
	for _, c := range ds.Consumers {
		if c.IsPopulation() {
			x.set(pop.Sheet, pop.District, popRow, c.District)
			x.set(pop.Sheet, pop.Settlement, popRow, c.Settlement)
			x.set(pop.Sheet, pop.BindingCode, popRow, c.BindingCode)
			x.setNumber(pop.Sheet, pop.YearlyExpense, popRow, c.YearlyExpense)
			x.setNumber(pop.Sheet, pop.HourlyExpense, popRow, c.HourlyExpense)
			popRow++
			continue
		}
		x.set(org.Sheet, org.Name, orgRow, c.Name)
		x.set(org.Sheet, org.District, orgRow, c.District)
		x.set(org.Sheet, org.Settlement, orgRow, c.Settlement)
		x.set(org.Sheet, org.BindingCode, orgRow, c.BindingCode)
		x.setNumber(org.Sheet, org.YearlyExpense, orgRow, c.YearlyExpense)
		x.setNumber(org.Sheet, org.HourlyExpense, orgRow, c.HourlyExpense)
		x.set(org.Sheet, org.GRSReference, orgRow, c.GRSReferenceID)
		orgRow++
	}

	if x.err != nil {
		return x.err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

// exporter keeps the first error so the table loops stay flat.
type exporter struct {
	f   *excelize.File
	err error
}

func (x *exporter) set(sheet, column string, row int, value any) {
	if x.err != nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	col, err := excelize.ColumnNameToNumber(column)
	if err != nil {
		x.err = err
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		x.err = err
		return
	}
	x.err = x.f.SetCellValue(sheet, cell, value)
}

// setNumber writes numeric text as a number and anything else verbatim.
func (x *exporter) setNumber(sheet, column string, row int, raw string) {
	if v, ok := allocation.ParseDecimal(raw); ok {
		x.set(sheet, column, row, v)
		return
	}
	x.set(sheet, column, row, raw)
}

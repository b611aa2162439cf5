package workbook

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/warp/prg-engine/allocation"
)

// =============================================================================
// LOAD
// =============================================================================

// Load reads all four tables from the workbook at path.
// A missing sheet fails the load; a row missing required cells is skipped.
func Load(ctx context.Context, path string, layout Layout) (*allocation.Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	return LoadFile(ctx, f, layout)
}

// LoadFile reads all four tables from an open workbook.
func LoadFile(ctx context.Context, f *excelize.File, layout Layout) (*allocation.Dataset, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "workbook").Logger()

	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	ds := &allocation.Dataset{}
	var err error

	if ds.Pipelines, err = loadPipelines(f, layout.Pipelines); err != nil {
		return nil, err
	}
	if ds.GRS, err = loadGRS(f, layout.GRS); err != nil {
		return nil, err
	}
	population, err := loadPopulation(f, layout.Population)
	if err != nil {
		return nil, err
	}
	organizations, err := loadOrganizations(f, layout.Organizations)
	if err != nil {
		return nil, err
	}
	ds.Consumers = append(population, organizations...)

	log.Info().
		Int("pipelines", len(ds.Pipelines)).
		Int("grs", len(ds.GRS)).
		Int("population", len(population)).
		Int("organizations", len(organizations)).
		Msg("workbook loaded")

	return ds, nil
}

// readRows returns the raw cell values of a sheet from the one-based start row.
// The returned offset is the zero-based row index of the first returned row.
func readRows(f *excelize.File, table, sheet string, startRow int) ([][]string, int, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, 0, fmt.Errorf("load %s table from sheet %q: %w", table, sheet, err)
	}
	offset := startRow - 1
	if offset >= len(rows) {
		return nil, offset, nil
	}
	return rows[offset:], offset, nil
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// cols converts validated column letters to zero-based indices.
func cols(letters ...string) []int {
	out := make([]int, len(letters))
	for i, l := range letters {
		out[i], _ = columnIndex(l)
	}
	return out
}

// =============================================================================
// TABLES
// =============================================================================

func loadPipelines(f *excelize.File, t PipelineTable) ([]allocation.Pipeline, error) {
	rows, offset, err := readRows(f, "pipelines", t.Sheet, t.StartRow)
	if err != nil {
		return nil, err
	}

	c := cols(t.District, t.Settlement, t.PipelineID, t.GRSID)
	loadCols := make(map[allocation.LoadField]int, len(allocation.LoadFields))
	for field, letter := range t.LoadColumns() {
		loadCols[field], _ = columnIndex(letter)
	}

	var out []allocation.Pipeline
	for i, row := range rows {
		district, settlement, id := cell(row, c[0]), cell(row, c[1]), cell(row, c[2])
		grsID := ParseGRSReference(cell(row, c[3]))
		if district == "" || settlement == "" || id == "" || grsID == "" {
			continue
		}

		p := allocation.Pipeline{
			PipelineID:  id,
			GRSID:       grsID,
			District:    district,
			Settlement:  settlement,
			Origin:      allocation.Origin{Sheet: t.Sheet, Row: offset + i},
			LoadColumns: make(map[allocation.LoadField]int, len(loadCols)),
		}
		for field, col := range loadCols {
			p.LoadColumns[field] = col
		}
		p.Loads = allocation.Loads{
			YearlyPopulation:   numeric(cell(row, loadCols[allocation.FieldYearlyPopulation])),
			HourlyPopulation:   numeric(cell(row, loadCols[allocation.FieldHourlyPopulation])),
			YearlyOrganization: numeric(cell(row, loadCols[allocation.FieldYearlyOrganization])),
			HourlyOrganization: numeric(cell(row, loadCols[allocation.FieldHourlyOrganization])),
			YearlyTotal:        numeric(cell(row, loadCols[allocation.FieldYearlyTotal])),
			HourlyPeakTotal:    numeric(cell(row, loadCols[allocation.FieldHourlyPeakTotal])),
		}
		out = append(out, p)
	}
	return out, nil
}

func loadGRS(f *excelize.File, t GRSTable) ([]allocation.GRS, error) {
	rows, offset, err := readRows(f, "grs", t.Sheet, t.StartRow)
	if err != nil {
		return nil, err
	}

	c := cols(t.District, t.ID, t.Name)
	var out []allocation.GRS
	for i, row := range rows {
		district, id, name := cell(row, c[0]), cell(row, c[1]), cell(row, c[2])
		if district == "" || id == "" || name == "" {
			continue
		}
		out = append(out, allocation.GRS{
			ID:       id,
			Name:     name,
			District: district,
			Origin:   allocation.Origin{Sheet: t.Sheet, Row: offset + i},
		})
	}
	return out, nil
}

func loadPopulation(f *excelize.File, t PopulationTable) ([]allocation.Consumer, error) {
	rows, offset, err := readRows(f, "population", t.Sheet, t.StartRow)
	if err != nil {
		return nil, err
	}

	c := cols(t.District, t.Settlement, t.BindingCode, t.YearlyExpense, t.HourlyExpense)
	var out []allocation.Consumer
	for i, row := range rows {
		district, settlement := cell(row, c[0]), cell(row, c[1])
		if district == "" || settlement == "" {
			continue
		}
		r := offset + i
		out = append(out, allocation.Consumer{
			ID:            fmt.Sprintf("pop_%s_%d", t.Sheet, r),
			Kind:          allocation.KindPopulation,
			Name:          "Население " + settlement,
			District:      district,
			Settlement:    settlement,
			BindingCode:   cell(row, c[2]),
			YearlyExpense: cell(row, c[3]),
			HourlyExpense: cell(row, c[4]),
			Origin:        allocation.Origin{Sheet: t.Sheet, Row: r, Column: c[2]},
		})
	}
	return out, nil
}

func loadOrganizations(f *excelize.File, t OrganizationTable) ([]allocation.Consumer, error) {
	rows, offset, err := readRows(f, "organizations", t.Sheet, t.StartRow)
	if err != nil {
		return nil, err
	}

	c := cols(t.Name, t.District, t.Settlement, t.BindingCode, t.YearlyExpense, t.HourlyExpense, t.GRSReference)
	var out []allocation.Consumer
	for i, row := range rows {
		name, district, settlement := cell(row, c[0]), cell(row, c[1]), cell(row, c[2])
		if name == "" || district == "" || settlement == "" {
			continue
		}
		r := offset + i
		out = append(out, allocation.Consumer{
			ID:             fmt.Sprintf("org_%s_%d", t.Sheet, r),
			Kind:           allocation.KindOrganization,
			Name:           name,
			District:       district,
			Settlement:     settlement,
			BindingCode:    cell(row, c[3]),
			YearlyExpense:  cell(row, c[4]),
			HourlyExpense:  cell(row, c[5]),
			GRSReferenceID: cell(row, c[6]),
			Origin:         allocation.Origin{Sheet: t.Sheet, Row: r, Column: c[3]},
		})
	}
	return out, nil
}

// =============================================================================
// CELL PARSING
// =============================================================================

var digitRun = regexp.MustCompile(`\d+`)

// ParseGRSReference extracts the first non-zero integer from a GRS
// reference cell: "ГРС-012" becomes "12", "0 / 7" becomes "7".
// It returns "" when the cell holds no such number.
func ParseGRSReference(raw string) string {
	for _, run := range digitRun.FindAllString(raw, -1) {
		n, err := strconv.Atoi(run)
		if err != nil || n == 0 {
			continue
		}
		return strconv.Itoa(n)
	}
	return ""
}

// numeric parses a load cell; anything non-numeric reads as zero.
func numeric(s string) float64 {
	v, ok := allocation.ParseDecimal(s)
	if !ok {
		return 0
	}
	return v
}

/*
Package allocation provides the core binding and load-allocation engine.

PURPOSE:
  Consumers (households aggregated by settlement, and organizations) carry an
  encoded list of bindings that assign fractional shares of their gas
  consumption to pipeline segments (PRG). This package decodes and mutates
  those bindings and re-derives the per-pipeline yearly and peak-hourly
  loads from the full consumer set.

KEY CONCEPTS IN THIS FILE (types.go):
  - Consumer: a population or organization row with a binding code
  - Pipeline: a PRG segment with six derived load fields
  - GRS: a gas reduction station (reference data)
  - ChangeRecord: an audit entry for every mutation, written back on commit
  - Dataset: everything loaded from one workbook

DESIGN PRINCIPLES:
  1. Stateless: every operation works only on its arguments
  2. Tolerant: malformed legacy data degrades gracefully, never aborts
  3. Derived loads: pipeline loads are recomputed from scratch, never patched
  4. Auditable: every mutation emits a ChangeRecord with old and new values

SEE ALSO:
  - codec.go: binding text encoding
  - binder.go: binding operations
  - loads.go: load aggregation
*/
package allocation

import "time"

// =============================================================================
// CONSUMER
// =============================================================================

type ConsumerKind string

const (
	KindPopulation   ConsumerKind = "population"
	KindOrganization ConsumerKind = "organization"
)

// Origin locates the workbook cell a value came from. The core never
// interprets it; it is copied into change records unchanged.
type Origin struct {
	Sheet  string
	Row    int // zero-based row in the sheet
	Column int // zero-based column
}

// Consumer is a single population or organization record.
// BindingCode is the only field the binding operations mutate.
type Consumer struct {
	ID         string
	Kind       ConsumerKind
	Name       string
	District   string
	Settlement string

	// BindingCode is the encoded binding list, e.g. "P1|0,5|ГРС Север;P2|0,3|ГРС Юг".
	BindingCode string

	// Raw expense cells. Parsed on demand by the expense resolver.
	YearlyExpense string
	HourlyExpense string

	// GRSReferenceID is the organization's direct GRS reference (empty for population).
	GRSReferenceID string

	// Origin is the binding code cell.
	Origin Origin
}

func (c Consumer) IsPopulation() bool   { return c.Kind == KindPopulation }
func (c Consumer) IsOrganization() bool { return c.Kind == KindOrganization }

func (c Consumer) Location() Location { return Location{District: c.District, Settlement: c.Settlement} }

// =============================================================================
// PIPELINE (PRG)
// =============================================================================

// LoadField names one of the six derived load fields of a pipeline.
type LoadField string

const (
	FieldYearlyPopulation   LoadField = "yearly_population"
	FieldHourlyPopulation   LoadField = "hourly_population"
	FieldYearlyOrganization LoadField = "yearly_organization"
	FieldHourlyOrganization LoadField = "hourly_organization"
	FieldYearlyTotal        LoadField = "yearly_total"
	FieldHourlyPeakTotal    LoadField = "hourly_peak_total"
)

// LoadFields lists the load fields in workbook column order.
var LoadFields = []LoadField{
	FieldYearlyPopulation,
	FieldHourlyPopulation,
	FieldYearlyOrganization,
	FieldHourlyOrganization,
	FieldYearlyTotal,
	FieldHourlyPeakTotal,
}

// Loads holds the six derived load figures of a pipeline.
// YearlyTotal and HourlyPeakTotal are always the sum of their two components.
type Loads struct {
	YearlyPopulation   float64
	HourlyPopulation   float64
	YearlyOrganization float64
	HourlyOrganization float64
	YearlyTotal        float64
	HourlyPeakTotal    float64
}

// Get returns the value of a single field.
func (l Loads) Get(f LoadField) float64 {
	switch f {
	case FieldYearlyPopulation:
		return l.YearlyPopulation
	case FieldHourlyPopulation:
		return l.HourlyPopulation
	case FieldYearlyOrganization:
		return l.YearlyOrganization
	case FieldHourlyOrganization:
		return l.HourlyOrganization
	case FieldYearlyTotal:
		return l.YearlyTotal
	case FieldHourlyPeakTotal:
		return l.HourlyPeakTotal
	}
	return 0
}

// Set assigns a single field. Unknown fields are ignored.
func (l *Loads) Set(f LoadField, v float64) {
	switch f {
	case FieldYearlyPopulation:
		l.YearlyPopulation = v
	case FieldHourlyPopulation:
		l.HourlyPopulation = v
	case FieldYearlyOrganization:
		l.YearlyOrganization = v
	case FieldHourlyOrganization:
		l.HourlyOrganization = v
	case FieldYearlyTotal:
		l.YearlyTotal = v
	case FieldHourlyPeakTotal:
		l.HourlyPeakTotal = v
	}
}

type Pipeline struct {
	PipelineID string
	GRSID      string
	District   string
	Settlement string

	Loads Loads

	// Origin is the pipeline row; Column is unused.
	Origin Origin
	// LoadColumns maps each load field to its zero-based workbook column.
	LoadColumns map[LoadField]int
}

func (p Pipeline) Location() Location { return Location{District: p.District, Settlement: p.Settlement} }

// =============================================================================
// GRS - Gas Reduction Station
// =============================================================================

type GRS struct {
	ID       string
	Name     string
	District string
	Origin   Origin
}

func (g GRS) Location() Location { return Location{District: g.District} }

// =============================================================================
// CHANGE RECORD - Audit entry for every mutation
// =============================================================================

type ChangeID string

type ChangeKind string

const (
	ChangeSingleBind      ChangeKind = "single_bind"
	ChangeManualBind      ChangeKind = "manual_bind" // forced single bind
	ChangeSettlementBind  ChangeKind = "settlement_bind"
	ChangeAutoBind        ChangeKind = "auto_bind"
	ChangeSmartSearch     ChangeKind = "smart_search"
	ChangeUnbind          ChangeKind = "unbind"
	ChangeRemovePipeline  ChangeKind = "remove_pipeline"
	ChangeEditShares      ChangeKind = "edit_shares"
	ChangeLoadCalculation ChangeKind = "load_calculation"
)

// ChangeRecord is produced by every mutating operation. The persistence
// layer writes NewValue into the Origin cell when the user commits.
type ChangeRecord struct {
	ID          ChangeID
	Kind        ChangeKind
	TargetID    string // consumer ID or pipeline ID
	Origin      Origin
	OldValue    string
	NewValue    string
	Description string
	CreatedAt   time.Time
}

// IsLoadChange reports whether the record carries a numeric load value.
func (c ChangeRecord) IsLoadChange() bool { return c.Kind == ChangeLoadCalculation }

// =============================================================================
// DATASET
// =============================================================================

// Dataset is the in-memory copy of one workbook.
type Dataset struct {
	Pipelines []Pipeline
	GRS       []GRS
	Consumers []Consumer
}

// Clone returns a deep copy so callers can mutate without sharing state.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Pipelines: make([]Pipeline, len(d.Pipelines)),
		GRS:       append([]GRS(nil), d.GRS...),
		Consumers: append([]Consumer(nil), d.Consumers...),
	}
	for i, p := range d.Pipelines {
		if p.LoadColumns != nil {
			cols := make(map[LoadField]int, len(p.LoadColumns))
			for k, v := range p.LoadColumns {
				cols[k] = v
			}
			p.LoadColumns = cols
		}
		out.Pipelines[i] = p
	}
	return out
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the allocation records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Records:       ConsumerDTO, BindingDTO, PipelineDTO, LoadsDTO, GRSDTO
  Results:       BindingResultDTO, OutcomeDTO, CalculationDTO, SearchResultDTO
  Checks:        CheckReportDTO, GRSMismatchDTO, ShareProblemDTO
  Changes:       ChangeDTO, CommitDTO
  Scenarios:     ScenarioDTO

VALIDATION:
  Validation is done in handlers and in the allocation core, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/session"
	"github.com/warp/prg-engine/workbook"
)

// =============================================================================
// RECORDS
// =============================================================================

type BindingDTO struct {
	PipelineID string  `json:"pipeline_id"`
	Share      float64 `json:"share"`
	GRSName    string  `json:"grs_name"`
}

type ConsumerDTO struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	Name           string       `json:"name"`
	District       string       `json:"district"`
	Settlement     string       `json:"settlement"`
	BindingCode    string       `json:"binding_code"`
	Bindings       []BindingDTO `json:"bindings"`
	TotalShare     float64      `json:"total_share"`
	YearlyExpense  float64      `json:"yearly_expense"`
	HourlyExpense  float64      `json:"hourly_expense"`
	HasExpenses    bool         `json:"has_expenses"`
	GRSReferenceID string       `json:"grs_reference_id,omitempty"`
	Sheet          string       `json:"sheet"`
	Row            int          `json:"row"` // one-based, as shown in the workbook
}

type LoadsDTO struct {
	YearlyPopulation   float64 `json:"yearly_population"`
	HourlyPopulation   float64 `json:"hourly_population"`
	YearlyOrganization float64 `json:"yearly_organization"`
	HourlyOrganization float64 `json:"hourly_organization"`
	YearlyTotal        float64 `json:"yearly_total"`
	HourlyPeakTotal    float64 `json:"hourly_peak_total"`
}

type PipelineDTO struct {
	PipelineID string   `json:"pipeline_id"`
	GRSID      string   `json:"grs_id"`
	GRSName    string   `json:"grs_name"`
	District   string   `json:"district"`
	Settlement string   `json:"settlement"`
	Loads      LoadsDTO `json:"loads"`
	Row        int      `json:"row"`
}

type GRSDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	District string `json:"district"`
}

func toBindingDTOs(bs []allocation.Binding) []BindingDTO {
	out := make([]BindingDTO, len(bs))
	for i, b := range bs {
		out[i] = BindingDTO{PipelineID: b.PipelineID, Share: b.Share, GRSName: b.GRSName}
	}
	return out
}

func toConsumerDTO(c allocation.Consumer) ConsumerDTO {
	bindings := allocation.Decode(c.BindingCode)
	exp, ok := allocation.ResolveExpenses(c)
	return ConsumerDTO{
		ID:             c.ID,
		Kind:           string(c.Kind),
		Name:           c.Name,
		District:       c.District,
		Settlement:     c.Settlement,
		BindingCode:    c.BindingCode,
		Bindings:       toBindingDTOs(bindings),
		TotalShare:     allocation.TotalShare(bindings),
		YearlyExpense:  exp.Yearly,
		HourlyExpense:  exp.Hourly,
		HasExpenses:    ok,
		GRSReferenceID: c.GRSReferenceID,
		Sheet:          c.Origin.Sheet,
		Row:            c.Origin.Row + 1,
	}
}

func toConsumerDTOs(cs []allocation.Consumer) []ConsumerDTO {
	out := make([]ConsumerDTO, len(cs))
	for i, c := range cs {
		out[i] = toConsumerDTO(c)
	}
	return out
}

func toLoadsDTO(l allocation.Loads) LoadsDTO {
	return LoadsDTO{
		YearlyPopulation:   l.YearlyPopulation,
		HourlyPopulation:   l.HourlyPopulation,
		YearlyOrganization: l.YearlyOrganization,
		HourlyOrganization: l.HourlyOrganization,
		YearlyTotal:        l.YearlyTotal,
		HourlyPeakTotal:    l.HourlyPeakTotal,
	}
}

func toPipelineDTO(p allocation.Pipeline, grs []allocation.GRS) PipelineDTO {
	return PipelineDTO{
		PipelineID: p.PipelineID,
		GRSID:      p.GRSID,
		GRSName:    allocation.GRSNameByID(grs, p.GRSID),
		District:   p.District,
		Settlement: p.Settlement,
		Loads:      toLoadsDTO(p.Loads),
		Row:        p.Origin.Row + 1,
	}
}

func toPipelineDTOs(ps []allocation.Pipeline, grs []allocation.GRS) []PipelineDTO {
	out := make([]PipelineDTO, len(ps))
	for i, p := range ps {
		out[i] = toPipelineDTO(p, grs)
	}
	return out
}

// =============================================================================
// REQUESTS
// =============================================================================

type BindConsumerRequest struct {
	PipelineID string  `json:"pipeline_id"`
	Share      float64 `json:"share"`
	Force      bool    `json:"force"`
}

type EditSharesRequest struct {
	Bindings []BindingDTO `json:"bindings"`
}

type SettlementBindRequest struct {
	AnchorID   string  `json:"anchor_id"`
	PipelineID string  `json:"pipeline_id"`
	Share      float64 `json:"share"`
}

type SettlementUnbindRequest struct {
	AnchorID string `json:"anchor_id"`
}

type AutoBindRequest struct {
	Share float64 `json:"share"` // 0 uses the configured share
}

type SearchBindRequest struct {
	District        string  `json:"district"`
	Settlement      string  `json:"settlement"`
	Name            string  `json:"name"`
	RequireExpenses bool    `json:"require_expenses"`
	PipelineID      string  `json:"pipeline_id"`
	Share           float64 `json:"share"`
}

func (r SearchBindRequest) query() allocation.OrganizationQuery {
	return allocation.OrganizationQuery{
		District:        r.District,
		Settlement:      r.Settlement,
		NamePattern:     r.Name,
		RequireExpenses: r.RequireExpenses,
	}
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESULTS
// =============================================================================

type OutcomeDTO struct {
	ConsumerID   string `json:"consumer_id,omitempty"`
	ConsumerName string `json:"consumer_name,omitempty"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	ChangeID     string `json:"change_id,omitempty"`
}

type BindingResultDTO struct {
	Operation         string       `json:"operation"`
	SuccessCount      int          `json:"success_count"`
	SkippedCount      int          `json:"skipped_count"`
	AlreadyBoundCount int          `json:"already_bound_count"`
	FailedCount       int          `json:"failed_count"`
	Outcomes          []OutcomeDTO `json:"outcomes"`
	Changes           []ChangeDTO  `json:"changes"`
	Errors            []string     `json:"errors"`
	Details           []string     `json:"details"`
	// Warnings flag accepted values the operator should review, such as
	// edited shares outside (0, 1] or a total other than 1.
	Warnings []string `json:"warnings,omitempty"`
}

func toBindingResultDTO(r *allocation.BindingResult) BindingResultDTO {
	outcomes := make([]OutcomeDTO, len(r.Outcomes))
	for i, o := range r.Outcomes {
		dto := OutcomeDTO{
			ConsumerID:   o.ConsumerID,
			ConsumerName: o.ConsumerName,
			Kind:         string(o.Kind),
			Reason:       o.Reason,
		}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		if o.Change != nil {
			dto.ChangeID = string(o.Change.ID)
		}
		outcomes[i] = dto
	}
	return BindingResultDTO{
		Operation:         string(r.Operation),
		SuccessCount:      r.SuccessCount,
		SkippedCount:      r.SkippedCount,
		AlreadyBoundCount: r.AlreadyBoundCount,
		FailedCount:       r.FailedCount(),
		Outcomes:          outcomes,
		Changes:           toChangeDTOs(r.Changes),
		Errors:            nonNil(r.Errors),
		Details:           nonNil(r.Details),
	}
}

type CalculationDTO struct {
	Loads              map[string]LoadsDTO `json:"loads"`
	ProcessedConsumers int                 `json:"processed_consumers"`
	ProcessedBindings  int                 `json:"processed_bindings"`
	PipelinesUpdated   int                 `json:"pipelines_updated"`
	UnknownPipelineIDs []string            `json:"unknown_pipeline_ids"`
	Changes            []ChangeDTO         `json:"changes"`
	Errors             []string            `json:"errors"`
	Details            []string            `json:"details"`
}

func toCalculationDTO(c *session.LoadCalculation) CalculationDTO {
	loads := make(map[string]LoadsDTO, len(c.Loads))
	for id, l := range c.Loads {
		loads[id] = toLoadsDTO(l.Loads())
	}
	return CalculationDTO{
		Loads:              loads,
		ProcessedConsumers: c.ProcessedConsumers,
		ProcessedBindings:  c.ProcessedBindings,
		PipelinesUpdated:   c.Updated,
		UnknownPipelineIDs: nonNil(c.UnknownPipelineIDs),
		Changes:            toChangeDTOs(c.Changes),
		Errors:             nonNil(c.Errors),
		Details:            nonNil(c.Details),
	}
}

type SearchMatchDTO struct {
	Consumer    ConsumerDTO `json:"consumer"`
	HasExpenses bool        `json:"has_expenses"`
}

type SearchResultDTO struct {
	Matches              []SearchMatchDTO `json:"matches"`
	TotalCount           int              `json:"total_count"`
	WithExpensesCount    int              `json:"with_expenses_count"`
	WithoutExpensesCount int              `json:"without_expenses_count"`
}

func toSearchResultDTO(r *allocation.SearchResult) SearchResultDTO {
	matches := make([]SearchMatchDTO, len(r.Matches))
	for i, m := range r.Matches {
		matches[i] = SearchMatchDTO{Consumer: toConsumerDTO(m.Consumer), HasExpenses: m.HasExpenses}
	}
	return SearchResultDTO{
		Matches:              matches,
		TotalCount:           r.TotalCount,
		WithExpensesCount:    r.WithExpensesCount,
		WithoutExpensesCount: r.WithoutExpensesCount,
	}
}

// =============================================================================
// CHECKS
// =============================================================================

type GRSMismatchDTO struct {
	Consumer       ConsumerDTO `json:"consumer"`
	Issue          string      `json:"issue"`
	GRSByReference string      `json:"grs_by_reference"`
	GRSInCode      string      `json:"grs_in_code"`
}

type ShareProblemDTO struct {
	Consumer   ConsumerDTO `json:"consumer"`
	Kind       string      `json:"kind"`
	TotalShare float64     `json:"total_share"`
}

type CheckReportDTO struct {
	UnboundPipelines []PipelineDTO     `json:"unbound_pipelines"`
	UnboundConsumers []ConsumerDTO     `json:"unbound_consumers"`
	WithoutExpenses  []ConsumerDTO     `json:"without_expenses"`
	GRSMismatches    []GRSMismatchDTO  `json:"grs_mismatches"`
	ShareProblems    []ShareProblemDTO `json:"share_problems"`
	Clean            bool              `json:"clean"`
}

func toGRSMismatchDTOs(ms []allocation.GRSMismatch) []GRSMismatchDTO {
	out := make([]GRSMismatchDTO, len(ms))
	for i, m := range ms {
		out[i] = GRSMismatchDTO{
			Consumer:       toConsumerDTO(m.Consumer),
			Issue:          string(m.Issue),
			GRSByReference: m.GRSByReference,
			GRSInCode:      m.GRSInCode,
		}
	}
	return out
}

func toShareProblemDTOs(ps []allocation.ShareProblem) []ShareProblemDTO {
	out := make([]ShareProblemDTO, len(ps))
	for i, p := range ps {
		out[i] = ShareProblemDTO{Consumer: toConsumerDTO(p.Consumer), Kind: string(p.Kind), TotalShare: p.TotalShare}
	}
	return out
}

func toCheckReportDTO(r *session.CheckReport, grs []allocation.GRS) CheckReportDTO {
	return CheckReportDTO{
		UnboundPipelines: toPipelineDTOs(r.UnboundPipelines, grs),
		UnboundConsumers: toConsumerDTOs(r.UnboundConsumers),
		WithoutExpenses:  toConsumerDTOs(r.WithoutExpenses),
		GRSMismatches:    toGRSMismatchDTOs(r.GRSMismatches),
		ShareProblems:    toShareProblemDTOs(r.ShareProblems),
		Clean:            r.Clean(),
	}
}

// =============================================================================
// CHANGES
// =============================================================================

type ChangeDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	Sheet       string `json:"sheet"`
	Row         int    `json:"row"`
	Column      int    `json:"column"`
	OldValue    string `json:"old_value"`
	NewValue    string `json:"new_value"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func toChangeDTO(c allocation.ChangeRecord) ChangeDTO {
	return ChangeDTO{
		ID:          string(c.ID),
		Kind:        string(c.Kind),
		TargetID:    c.TargetID,
		Sheet:       c.Origin.Sheet,
		Row:         c.Origin.Row + 1,
		Column:      c.Origin.Column + 1,
		OldValue:    c.OldValue,
		NewValue:    c.NewValue,
		Description: c.Description,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

func toChangeDTOs(cs []allocation.ChangeRecord) []ChangeDTO {
	out := make([]ChangeDTO, len(cs))
	for i, c := range cs {
		out[i] = toChangeDTO(c)
	}
	return out
}

type CellErrorDTO struct {
	ChangeID string `json:"change_id"`
	Sheet    string `json:"sheet"`
	Row      int    `json:"row"`
	Column   int    `json:"column"`
	Error    string `json:"error"`
}

type CommitDTO struct {
	ID         string         `json:"id"`
	Workbook   string         `json:"workbook"`
	BackupPath string         `json:"backup_path,omitempty"`
	Applied    int            `json:"applied"`
	Failed     int            `json:"failed"`
	CreatedAt  string         `json:"created_at"`
	Skipped    []CellErrorDTO `json:"skipped,omitempty"`
}

func toCommitDTO(c allocation.Commit, skipped []*workbook.CellError) CommitDTO {
	dto := CommitDTO{
		ID:         c.ID,
		Workbook:   c.Workbook,
		BackupPath: c.BackupPath,
		Applied:    c.Applied,
		Failed:     c.Failed,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
	for _, ce := range skipped {
		dto.Skipped = append(dto.Skipped, CellErrorDTO{
			ChangeID: string(ce.ChangeID),
			Sheet:    ce.Sheet,
			Row:      ce.Row + 1,
			Column:   ce.Column + 1,
			Error:    ce.Err.Error(),
		})
	}
	return dto
}

// =============================================================================
// MISC
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type WorkbookDTO struct {
	Path       string `json:"path"`
	Pipelines  int    `json:"pipelines"`
	GRS        int    `json:"grs"`
	Consumers  int    `json:"consumers"`
	Pending    int    `json:"pending"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

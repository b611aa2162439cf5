/*
Package session owns one loaded workbook and the changes made to it.

PURPOSE:
  The allocation core is stateless. A Session holds the state it works on:
  the dataset loaded from a workbook, the ordered list of pending change
  records, and the collaborators that persist them on commit.

LIFECYCLE:
  1. Open (or New) loads the dataset; pending is empty
  2. Binding and calculation methods mutate the in-memory dataset and
     append their change records to pending
  3. Revert drops one pending change, Discard drops all of them
  4. Commit writes pending changes to the workbook, then journals the
     ones that were saved; pending is cleared only when both succeed

CONCURRENCY:
  Every method takes the session mutex. The HTTP surface may call in
  parallel; operations still run one at a time.

LOOKUPS:
  Consumers and pipelines are addressed by ID. A missing ID is returned as
  an error wrapping allocation.ErrConsumerNotFound or ErrPipelineNotFound.
  Business outcomes (skipped, already bound) are never errors.

SEE ALSO:
  - allocation/binder.go: binding operations
  - workbook/writer.go: write-back on commit
  - allocation/journal.go: commit journal
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/workbook"
)

// WorkbookWriter writes committed changes back to a workbook file.
type WorkbookWriter interface {
	Apply(ctx context.Context, path string, changes []allocation.ChangeRecord) (*workbook.ApplyResult, error)
}

// Options configures a session. Zero values fall back to defaults.
type Options struct {
	WorkbookPath  string
	Layout        workbook.Layout
	Writer        WorkbookWriter
	Journal       *allocation.Journal // nil disables journaling
	Binder        *allocation.Binder
	AutoBindShare float64
	Logger        zerolog.Logger
}

type Session struct {
	mu sync.Mutex

	data    *allocation.Dataset
	base    *allocation.Dataset // state at load or last commit
	pending []allocation.ChangeRecord

	path    string
	layout  workbook.Layout
	writer  WorkbookWriter
	journal *allocation.Journal
	binder  *allocation.Binder
	share   float64
	log     zerolog.Logger
}

// New creates a session over an already loaded dataset.
func New(ds *allocation.Dataset, opts Options) *Session {
	if opts.Binder == nil {
		opts.Binder = allocation.NewBinder()
	}
	if opts.Writer == nil {
		opts.Writer = workbook.NewWriter(true)
	}
	if opts.AutoBindShare <= 0 {
		opts.AutoBindShare = allocation.DefaultAutoBindShare
	}
	if ds == nil {
		ds = &allocation.Dataset{}
	}
	return &Session{
		data:    ds,
		base:    ds.Clone(),
		path:    opts.WorkbookPath,
		layout:  opts.Layout,
		writer:  opts.Writer,
		journal: opts.Journal,
		binder:  opts.Binder,
		share:   opts.AutoBindShare,
		log:     opts.Logger.With().Str("component", "session").Logger(),
	}
}

// Open loads the workbook at opts.WorkbookPath and creates a session over it.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.WorkbookPath == "" {
		return nil, errors.New("workbook path is required")
	}
	ctx = opts.Logger.WithContext(ctx)
	ds, err := workbook.Load(ctx, opts.WorkbookPath, opts.Layout)
	if err != nil {
		return nil, err
	}
	return New(ds, opts), nil
}

// Reload replaces the dataset with a fresh load of path and drops all
// pending changes. An empty path reloads the current workbook.
func (s *Session) Reload(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		path = s.path
	}
	ds, err := workbook.Load(s.log.WithContext(ctx), path, s.layout)
	if err != nil {
		return err
	}
	dropped := len(s.pending)
	s.path = path
	s.data = ds
	s.base = ds.Clone()
	s.pending = nil
	s.log.Info().Str("workbook", path).Int("dropped", dropped).Msg("workbook reloaded")
	return nil
}

func (s *Session) WorkbookPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// =============================================================================
// READS
// =============================================================================

// Consumers returns copies of the consumers matching f.
func (s *Session) Consumers(f allocation.ConsumerFilter) []allocation.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := allocation.FilterConsumers(s.data.Consumers, f)
	out := make([]allocation.Consumer, len(res.Matches))
	for i, m := range res.Matches {
		out[i] = m.Consumer
	}
	return out
}

func (s *Session) Consumer(id string) (allocation.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumer(id)
	if err != nil {
		return allocation.Consumer{}, err
	}
	return *c, nil
}

func (s *Session) Pipelines() []allocation.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.Pipelines)
}

func (s *Session) Pipeline(id string) (allocation.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline(id)
}

// PipelinesAt returns the pipelines of one settlement.
func (s *Session) PipelinesAt(district, settlement string) []allocation.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return allocation.FindPipelinesByLocation(s.data.Pipelines, district, settlement)
}

func (s *Session) GRS() []allocation.GRS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.GRS)
}

// Dataset returns a deep copy of the current dataset.
func (s *Session) Dataset() *allocation.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

func (s *Session) consumer(id string) (*allocation.Consumer, error) {
	i, ok := allocation.FindConsumerByID(s.data.Consumers, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", allocation.ErrConsumerNotFound, id)
	}
	return &s.data.Consumers[i], nil
}

func (s *Session) pipeline(id string) (allocation.Pipeline, error) {
	p, ok := allocation.FindPipelineByID(s.data.Pipelines, id)
	if !ok {
		return allocation.Pipeline{}, fmt.Errorf("%w: %s", allocation.ErrPipelineNotFound, id)
	}
	return p, nil
}

// =============================================================================
// LOCATIONS
// =============================================================================

// Districts lists the districts of all consumers and pipelines.
func (s *Session) Districts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeSorted(
		allocation.UniqueDistricts(s.data.Consumers),
		allocation.UniqueDistricts(s.data.Pipelines),
	)
}

// Settlements lists the settlements of one district.
func (s *Session) Settlements(district string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeSorted(
		allocation.SettlementsInDistrict(s.data.Consumers, district),
		allocation.SettlementsInDistrict(s.data.Pipelines, district),
	)
}

// PipelineIDs lists the pipeline IDs of one location.
func (s *Session) PipelineIDs(district, settlement string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return allocation.PipelineIDsAtLocation(s.data.Pipelines, district, settlement)
}

// mergeSorted merges two location lists, drops duplicates and sorts.
func mergeSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(a, b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return allocation.SortValues(out)
}

// =============================================================================
// BINDING OPERATIONS
// =============================================================================

// BindConsumer binds one consumer to one pipeline. The GRS name is resolved
// from the pipeline's GRS reference.
func (s *Session) BindConsumer(consumerID, pipelineID string, share float64, force bool) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumer(consumerID)
	if err != nil {
		return nil, err
	}
	p, err := s.pipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	res := s.binder.BindSingle(c, p, allocation.GRSNameByID(s.data.GRS, p.GRSID), share, force)
	return s.track(res), nil
}

// BindSettlement binds every consumer in the anchor's settlement to the pipeline.
func (s *Session) BindSettlement(pipelineID, anchorID string, share float64) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anchor, err := s.consumer(anchorID)
	if err != nil {
		return nil, err
	}
	p, err := s.pipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	grsName := allocation.GRSNameByID(s.data.GRS, p.GRSID)
	res := s.binder.BindPipelineToSettlement(p, *anchor, s.data.Consumers, grsName, share)
	return s.track(res), nil
}

func (s *Session) UnbindConsumer(consumerID string) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumer(consumerID)
	if err != nil {
		return nil, err
	}
	return s.track(s.binder.UnbindSingle(c)), nil
}

func (s *Session) UnbindSettlement(anchorID string) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anchor, err := s.consumer(anchorID)
	if err != nil {
		return nil, err
	}
	return s.track(s.binder.UnbindSettlement(*anchor, s.data.Consumers)), nil
}

// RemovePipelineBinding removes one binding from a consumer. The pipeline
// does not have to exist any more; stale bindings can still be removed.
func (s *Session) RemovePipelineBinding(consumerID, pipelineID string) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumer(consumerID)
	if err != nil {
		return nil, err
	}
	return s.track(s.binder.RemovePipelineBinding(c, pipelineID)), nil
}

func (s *Session) EditShares(consumerID string, bindings []allocation.Binding) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumer(consumerID)
	if err != nil {
		return nil, err
	}
	return s.track(s.binder.EditShares(c, bindings)), nil
}

// AutoBind binds unbound consumers to the pipelines of their settlement.
// A share <= 0 uses the configured auto-bind share.
func (s *Session) AutoBind(share float64) *allocation.BindingResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if share <= 0 {
		share = s.share
	}
	res := s.binder.AutoBindAll(s.data.Pipelines, s.data.Consumers, s.data.GRS, share)
	return s.track(res)
}

func (s *Session) SearchOrganizations(q allocation.OrganizationQuery) *allocation.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return allocation.SmartSearchOrganizations(s.data.Consumers, q)
}

// BindSearch runs an organization search and binds every match to the pipeline.
func (s *Session) BindSearch(q allocation.OrganizationQuery, pipelineID string, share float64) (*allocation.BindingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	found := allocation.SmartSearchOrganizations(s.data.Consumers, q)
	grsName := allocation.GRSNameByID(s.data.GRS, p.GRSID)
	res := s.binder.BindSearchMatches(p, s.data.Consumers, found.Indices(), grsName, share)
	return s.track(res), nil
}

// track appends the result's changes to pending and logs the operation.
func (s *Session) track(res *allocation.BindingResult) *allocation.BindingResult {
	s.pending = append(s.pending, res.Changes...)

	s.log.Info().
		Str("operation", string(res.Operation)).
		Int("success", res.SuccessCount).
		Int("skipped", res.SkippedCount).
		Int("already_bound", res.AlreadyBoundCount).
		Int("failed", res.FailedCount()).
		Int("pending", len(s.pending)).
		Msg("binding operation")
	for _, d := range res.Details {
		s.log.Debug().Str("operation", string(res.Operation)).Msg(d)
	}
	for _, e := range res.Errors {
		s.log.Warn().Str("operation", string(res.Operation)).Msg(e)
	}
	return res
}

// =============================================================================
// LOADS
// =============================================================================

// LoadCalculation is the outcome of CalculateLoads.
type LoadCalculation struct {
	*allocation.CalculationResult
	Updated int
	Changes []allocation.ChangeRecord
}

// CalculateLoads re-derives every pipeline's loads from the current
// bindings and records one pending change per load cell that changed.
func (s *Session) CalculateLoads() *LoadCalculation {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := slices.Clone(s.data.Pipelines)
	res := allocation.CalculatePipelineLoads(s.data.Pipelines, s.data.Consumers)
	updated := allocation.ApplyLoadsToPipelines(s.data.Pipelines, res.Loads)
	changes := s.binder.LoadChanges(before, s.data.Pipelines)
	s.pending = append(s.pending, changes...)

	s.log.Info().
		Int("consumers", res.ProcessedConsumers).
		Int("bindings", res.ProcessedBindings).
		Int("pipelines_updated", updated).
		Int("changed_cells", len(changes)).
		Strs("unknown_pipelines", res.UnknownPipelineIDs).
		Msg("loads calculated")
	for _, e := range res.Errors {
		s.log.Warn().Msg(e)
	}

	return &LoadCalculation{CalculationResult: res, Updated: updated, Changes: changes}
}

// =============================================================================
// CHECKS
// =============================================================================

// CheckReport collects every consistency check over the dataset.
type CheckReport struct {
	UnboundPipelines []allocation.Pipeline
	UnboundConsumers []allocation.Consumer
	WithoutExpenses  []allocation.Consumer
	GRSMismatches    []allocation.GRSMismatch
	ShareProblems    []allocation.ShareProblem
}

// Clean reports whether no check found anything.
func (r *CheckReport) Clean() bool {
	return len(r.UnboundPipelines) == 0 && len(r.UnboundConsumers) == 0 &&
		len(r.WithoutExpenses) == 0 && len(r.GRSMismatches) == 0 && len(r.ShareProblems) == 0
}

func (s *Session) Check() *CheckReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.data
	return &CheckReport{
		UnboundPipelines: allocation.FindUnboundPipelines(d.Pipelines, d.Consumers),
		UnboundConsumers: allocation.FindUnboundConsumers(d.Consumers),
		WithoutExpenses:  allocation.FindConsumersWithoutExpenses(d.Consumers),
		GRSMismatches:    allocation.FindGRSMismatches(d.Consumers, d.GRS),
		ShareProblems:    allocation.CheckShareTotals(d.Consumers),
	}
}

// =============================================================================
// PENDING CHANGES
// =============================================================================

// Pending returns the pending changes in the order they were made.
func (s *Session) Pending() []allocation.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Revert drops one pending binding change and restores the consumer's
// previous binding code. The consumer must still hold the code the change
// produced; a change overtaken by a later one is stale.
func (s *Session) Revert(id allocation.ChangeID) (allocation.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.pending, func(r allocation.ChangeRecord) bool { return r.ID == id })
	if i < 0 {
		return allocation.ChangeRecord{}, fmt.Errorf("%w: %s", allocation.ErrChangeNotFound, id)
	}
	rec := s.pending[i]
	if rec.IsLoadChange() {
		return rec, fmt.Errorf("%w: %s is a load change", allocation.ErrNotRevertible, id)
	}

	c, err := s.consumer(rec.TargetID)
	if err != nil {
		return rec, err
	}
	if c.BindingCode != rec.NewValue {
		return rec, fmt.Errorf("%w: %s", allocation.ErrStaleChange, id)
	}

	c.BindingCode = rec.OldValue
	s.pending = slices.Delete(s.pending, i, i+1)
	s.log.Info().Str("change", string(id)).Str("consumer", c.ID).Msg("change reverted")
	return rec, nil
}

// Discard drops every pending change and restores the dataset to its state
// at load or at the last commit.
func (s *Session) Discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	s.data = s.base.Clone()
	s.pending = nil
	s.log.Info().Int("dropped", n).Msg("pending changes discarded")
	return n
}

// =============================================================================
// COMMIT
// =============================================================================

// CommitResult reports one commit.
type CommitResult struct {
	Commit  allocation.Commit
	Skipped []*workbook.CellError
}

// Commit writes the pending changes to the workbook and journals the ones
// that were saved. Pending changes are kept if either step fails, so the
// commit can be retried. Changes the writer skipped stay pending after a
// successful commit.
func (s *Session) Commit(ctx context.Context) (*CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, allocation.ErrNothingToCommit
	}
	if s.path == "" {
		return nil, errors.New("commit: session has no workbook path")
	}

	applied, err := s.writer.Apply(s.log.WithContext(ctx), s.path, s.pending)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	saved := make(map[allocation.ChangeID]bool, len(applied.Saved))
	for _, id := range applied.Saved {
		saved[id] = true
	}
	recs := make([]allocation.ChangeRecord, 0, len(applied.Saved))
	var unsaved []allocation.ChangeRecord
	for _, rec := range s.pending {
		if saved[rec.ID] {
			recs = append(recs, rec)
		} else {
			unsaved = append(unsaved, rec)
		}
	}

	commit := allocation.Commit{
		ID:         ulid.Make().String(),
		Workbook:   s.path,
		BackupPath: applied.BackupPath,
		Applied:    len(recs),
		Failed:     len(applied.Skipped),
		CreatedAt:  time.Now().UTC(),
	}
	if s.journal != nil {
		if err := s.journal.Record(ctx, commit, recs); err != nil {
			return nil, fmt.Errorf("commit: workbook saved but journal failed: %w", err)
		}
	}

	if len(unsaved) == 0 {
		s.base = s.data.Clone()
	} else {
		replaySaved(s.base, recs)
	}
	s.pending = unsaved

	s.log.Info().
		Str("commit", commit.ID).
		Str("backup", commit.BackupPath).
		Int("applied", commit.Applied).
		Int("failed", commit.Failed).
		Msg("changes committed")
	for _, ce := range applied.Skipped {
		s.log.Warn().Err(ce).Msg("cell not written")
	}

	return &CommitResult{Commit: commit, Skipped: applied.Skipped}, nil
}

// replaySaved applies saved change records to base so that it matches the
// workbook after a partial commit.
func replaySaved(base *allocation.Dataset, recs []allocation.ChangeRecord) {
	for _, rec := range recs {
		if !rec.IsLoadChange() {
			if i, ok := allocation.FindConsumerByID(base.Consumers, rec.TargetID); ok {
				base.Consumers[i].BindingCode = rec.NewValue
			}
			continue
		}
		v, err := strconv.ParseFloat(rec.NewValue, 64)
		if err != nil {
			continue
		}
		for i := range base.Pipelines {
			p := &base.Pipelines[i]
			if p.Origin.Sheet != rec.Origin.Sheet || p.Origin.Row != rec.Origin.Row {
				continue
			}
			for f, col := range p.LoadColumns {
				if col == rec.Origin.Column {
					p.Loads.Set(f, v)
				}
			}
		}
	}
}

// =============================================================================
// JOURNAL
// =============================================================================

// History returns the journaled changes of one consumer or pipeline.
// Without a journal the history is empty.
func (s *Session) History(ctx context.Context, targetID string) ([]allocation.ChangeRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.History(ctx, targetID)
}

// Commits returns the most recent commits first.
func (s *Session) Commits(ctx context.Context, limit int) ([]allocation.Commit, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Commits(ctx, limit)
}

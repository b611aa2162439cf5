package session_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/allocation/store"
	"github.com/warp/prg-engine/session"
	"github.com/warp/prg-engine/workbook"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const district = "Северный район"

// Consumer IDs after loading the fixture workbook.
const (
	popNorth = "pop_Население_9"
	popSouth = "pop_Население_10"
	orgDaisy = "org_Организации_9"
	orgEmpty = "org_Организации_10"
)

func fixture() *allocation.Dataset {
	return &allocation.Dataset{
		Pipelines: []allocation.Pipeline{
			{PipelineID: "P1", GRSID: "1", District: district, Settlement: "Северный"},
			{PipelineID: "P2", GRSID: "2", District: district, Settlement: "Северный"},
			{PipelineID: "P3", GRSID: "1", District: district, Settlement: "Южный"},
			{PipelineID: "P4", GRSID: "1", District: district, Settlement: "Пустой"},
		},
		GRS: []allocation.GRS{
			{ID: "1", Name: "ГРС Север", District: district},
			{ID: "2", Name: "ГРС Юг", District: district},
		},
		Consumers: []allocation.Consumer{
			{Kind: allocation.KindPopulation, District: district, Settlement: "Северный", YearlyExpense: "8760"},
			{Kind: allocation.KindPopulation, District: district, Settlement: "Южный", YearlyExpense: "1000"},
			{Kind: allocation.KindOrganization, Name: "ООО Ромашка", District: district, Settlement: "Северный", YearlyExpense: "8760"},
			{Kind: allocation.KindOrganization, Name: "ООО Лютик", District: district, Settlement: "Северный"},
		},
	}
}

type harness struct {
	path    string
	journal *allocation.Journal
	s       *session.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prg.xlsx")
	require.NoError(t, workbook.Export(path, workbook.DefaultLayout(), fixture()))

	n := 0
	binder := &allocation.Binder{
		NewID: func() allocation.ChangeID {
			n++
			return allocation.ChangeID(fmt.Sprintf("chg-%03d", n))
		},
		Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	journal := allocation.NewJournal(store.NewMemory())

	s, err := session.Open(context.Background(), session.Options{
		WorkbookPath: path,
		Layout:       workbook.DefaultLayout(),
		Writer:       workbook.NewWriter(false),
		Journal:      journal,
		Binder:       binder,
	})
	require.NoError(t, err)
	return &harness{path: path, journal: journal, s: s}
}

type failingWriter struct{}

func (failingWriter) Apply(context.Context, string, []allocation.ChangeRecord) (*workbook.ApplyResult, error) {
	return nil, errors.New("disk full")
}

// =============================================================================
// BIND + COMMIT
// =============================================================================

func TestSession_BindCalculateCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// GIVEN: a bind resolved by a differently cased pipeline ID
	res, err := h.s.BindConsumer(popNorth, "p1", 0.5, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.SuccessCount)

	c, err := h.s.Consumer(popNorth)
	require.NoError(t, err)
	assert.Equal(t, "P1|0,5|ГРС Север", c.BindingCode)

	calc := h.s.CalculateLoads()
	assert.Equal(t, 4380.0, calc.Loads["P1"].YearlyPopulation)
	assert.NotEmpty(t, calc.Changes)
	require.Len(t, h.s.Pending(), 1+len(calc.Changes))

	// WHEN
	out, err := h.s.Commit(ctx)

	// THEN: workbook written, journal recorded, pending cleared
	require.NoError(t, err)
	assert.Equal(t, 1+len(calc.Changes), out.Commit.Applied)
	assert.Zero(t, out.Commit.Failed)
	assert.Empty(t, h.s.Pending())

	history, err := h.s.History(ctx, popNorth)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, allocation.ChangeSingleBind, history[0].Kind)

	commits, err := h.s.Commits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, h.path, commits[0].Workbook)

	reloaded, err := workbook.Load(ctx, h.path, workbook.DefaultLayout())
	require.NoError(t, err)
	i, ok := allocation.FindConsumerByID(reloaded.Consumers, popNorth)
	require.True(t, ok)
	assert.Equal(t, "P1|0,5|ГРС Север", reloaded.Consumers[i].BindingCode)
	assert.Equal(t, 4380.0, reloaded.Pipelines[0].Loads.YearlyPopulation)
}

func TestSession_CommitNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.s.Commit(context.Background())
	assert.ErrorIs(t, err, allocation.ErrNothingToCommit)
}

func TestSession_CommitKeepsPendingOnFailure(t *testing.T) {
	s := session.New(fixture(), session.Options{WorkbookPath: "x.xlsx", Writer: failingWriter{}})
	s.AutoBind(0)
	require.NotEmpty(t, s.Pending())

	_, err := s.Commit(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotEmpty(t, s.Pending(), "pending changes survive a failed commit")
}

// firstOnlyWriter saves the first change and skips the rest.
type firstOnlyWriter struct{}

func (firstOnlyWriter) Apply(_ context.Context, _ string, changes []allocation.ChangeRecord) (*workbook.ApplyResult, error) {
	res := &workbook.ApplyResult{Saved: []allocation.ChangeID{changes[0].ID}}
	for _, ch := range changes[1:] {
		res.Skipped = append(res.Skipped, &workbook.CellError{
			ChangeID: ch.ID, Sheet: ch.Origin.Sheet, Row: ch.Origin.Row, Column: ch.Origin.Column,
			Err: workbook.ErrUnknownSheet,
		})
	}
	return res, nil
}

func TestSession_CommitKeepsSkippedChangesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, err := session.Open(ctx, session.Options{
		WorkbookPath: h.path,
		Layout:       workbook.DefaultLayout(),
		Writer:       firstOnlyWriter{},
	})
	require.NoError(t, err)

	// GIVEN: two binds, of which the writer saves only the first
	_, err = s.BindConsumer(popNorth, "P1", 0.5, false)
	require.NoError(t, err)
	_, err = s.BindConsumer(orgDaisy, "P1", 1, false)
	require.NoError(t, err)
	skippedID := s.Pending()[1].ID

	// WHEN
	out, err := s.Commit(ctx)

	// THEN: the skipped change is still pending
	require.NoError(t, err)
	assert.Equal(t, 1, out.Commit.Applied)
	assert.Equal(t, 1, out.Commit.Failed)
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, skippedID, pending[0].ID)

	// Discard undoes only the unsaved change
	assert.Equal(t, 1, s.Discard())
	north, err := s.Consumer(popNorth)
	require.NoError(t, err)
	assert.Equal(t, "P1|0,5|ГРС Север", north.BindingCode)
	daisy, err := s.Consumer(orgDaisy)
	require.NoError(t, err)
	assert.Empty(t, daisy.BindingCode)
}

func TestSession_UnknownIDs(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.BindConsumer("nope", "P1", 1, false)
	assert.ErrorIs(t, err, allocation.ErrConsumerNotFound)

	_, err = h.s.BindConsumer(popNorth, "P9", 1, false)
	assert.ErrorIs(t, err, allocation.ErrPipelineNotFound)
	assert.True(t, allocation.IsNotFound(err))

	_, err = h.s.BindSettlement("P9", popNorth, 1)
	assert.ErrorIs(t, err, allocation.ErrPipelineNotFound)

	_, err = h.s.Revert("chg-999")
	assert.ErrorIs(t, err, allocation.ErrChangeNotFound)
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

func TestSession_AutoBindThenDiscard(t *testing.T) {
	h := newHarness(t)

	// WHEN: auto-binding with the configured share
	res := h.s.AutoBind(0)

	// THEN: the three consumers with expenses are bound, the empty one untouched
	assert.Equal(t, 3, res.SuccessCount)
	c, err := h.s.Consumer(orgDaisy)
	require.NoError(t, err)
	assert.Equal(t, "P1|1|ГРС Север", c.BindingCode)
	c, err = h.s.Consumer(popSouth)
	require.NoError(t, err)
	assert.Equal(t, "P3|1|ГРС Север", c.BindingCode)
	c, err = h.s.Consumer(orgEmpty)
	require.NoError(t, err)
	assert.Empty(t, c.BindingCode)

	// WHEN: discarding
	n := h.s.Discard()

	// THEN: the dataset is back to its loaded state
	assert.Equal(t, 3, n)
	assert.Empty(t, h.s.Pending())
	for _, c := range h.s.Consumers(allocation.ConsumerFilter{}) {
		assert.Empty(t, c.BindingCode, c.ID)
	}
}

func TestSession_BindSettlementAndUnbind(t *testing.T) {
	h := newHarness(t)

	res, err := h.s.BindSettlement("P2", popNorth, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.SkippedCount, "organization without expenses")

	res, err = h.s.UnbindSettlement(orgDaisy)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)

	res, err = h.s.UnbindConsumer(popNorth)
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeSkipped, res.Single().Kind)
}

func TestSession_BindSearch(t *testing.T) {
	h := newHarness(t)
	q := allocation.OrganizationQuery{District: district, Settlement: "северный", NamePattern: "ромаш"}

	found := h.s.SearchOrganizations(q)
	require.Equal(t, 1, found.TotalCount)

	res, err := h.s.BindSearch(q, "P2", 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	c, err := h.s.Consumer(orgDaisy)
	require.NoError(t, err)
	assert.Equal(t, "P2|0,3|ГРС Юг", c.BindingCode)
}

func TestSession_EditAndRemove(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.EditShares(orgDaisy, []allocation.Binding{
		{PipelineID: "P1", Share: 0.6, GRSName: "ГРС Север"},
		{PipelineID: "P2", Share: 0.4, GRSName: "ГРС Юг"},
	})
	require.NoError(t, err)

	res, err := h.s.RemovePipelineBinding(orgDaisy, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	c, err := h.s.Consumer(orgDaisy)
	require.NoError(t, err)
	assert.Equal(t, "P2|0,4|ГРС Юг", c.BindingCode)
	assert.Len(t, h.s.Pending(), 2)
}

// =============================================================================
// REVERT
// =============================================================================

func TestSession_Revert(t *testing.T) {
	h := newHarness(t)

	// GIVEN: two consecutive changes to the same consumer
	first, err := h.s.BindConsumer(popNorth, "P1", 0.5, false)
	require.NoError(t, err)
	second, err := h.s.BindConsumer(popNorth, "P2", 0.5, true)
	require.NoError(t, err)
	firstID, secondID := first.Changes[0].ID, second.Changes[0].ID

	// WHEN/THEN: the overtaken change is stale
	_, err = h.s.Revert(firstID)
	assert.ErrorIs(t, err, allocation.ErrStaleChange)

	// Reverting in reverse order restores each previous code.
	_, err = h.s.Revert(secondID)
	require.NoError(t, err)
	c, _ := h.s.Consumer(popNorth)
	assert.Equal(t, "P1|0,5|ГРС Север", c.BindingCode)

	_, err = h.s.Revert(firstID)
	require.NoError(t, err)
	c, _ = h.s.Consumer(popNorth)
	assert.Empty(t, c.BindingCode)
	assert.Empty(t, h.s.Pending())
}

func TestSession_RevertLoadChangeRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.s.BindConsumer(popNorth, "P1", 1, false)
	require.NoError(t, err)

	calc := h.s.CalculateLoads()
	require.NotEmpty(t, calc.Changes)

	_, err = h.s.Revert(calc.Changes[0].ID)
	assert.ErrorIs(t, err, allocation.ErrNotRevertible)
	assert.True(t, allocation.IsClientError(err))
}

// =============================================================================
// CHECKS AND LOCATIONS
// =============================================================================

func TestSession_Check(t *testing.T) {
	h := newHarness(t)
	h.s.AutoBind(0)

	report := h.s.Check()

	require.Len(t, report.UnboundPipelines, 1)
	assert.Equal(t, "P4", report.UnboundPipelines[0].PipelineID)
	require.Len(t, report.UnboundConsumers, 1)
	assert.Equal(t, orgEmpty, report.UnboundConsumers[0].ID)
	require.Len(t, report.WithoutExpenses, 1)
	assert.Empty(t, report.ShareProblems)
	assert.False(t, report.Clean())
}

func TestSession_Locations(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, []string{district}, h.s.Districts())
	assert.Equal(t, []string{"Пустой", "Северный", "Южный"}, h.s.Settlements("СЕВЕРНЫЙ РАЙОН"))
	assert.Equal(t, []string{"P1", "P2"}, h.s.PipelineIDs(district, "Северный"))
}

func TestSession_Reload(t *testing.T) {
	h := newHarness(t)
	h.s.AutoBind(0)

	require.NoError(t, h.s.Reload(context.Background(), ""))

	assert.Empty(t, h.s.Pending())
	c, err := h.s.Consumer(popNorth)
	require.NoError(t, err)
	assert.Empty(t, c.BindingCode)
}

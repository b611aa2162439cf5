package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
)

func TestFindUnboundPipelines(t *testing.T) {
	pipelines := []allocation.Pipeline{pipeline("P1", "Северный"), pipeline("P2", "Пустошь")}
	consumers := []allocation.Consumer{population("pop_1", " СЕВЕРНЫЙ ", "100", "")}

	got := allocation.FindUnboundPipelines(pipelines, consumers)

	require.Len(t, got, 1)
	assert.Equal(t, "P2", got[0].PipelineID)
}

func TestFindUnboundConsumersAndWithoutExpenses(t *testing.T) {
	consumers := []allocation.Consumer{
		population("pop_1", "Северный", "100", "P1|1|ГРС"),
		population("pop_2", "Северный", "", "garbage"),
		population("pop_3", "Северный", "0", ""),
	}

	unbound := allocation.FindUnboundConsumers(consumers)
	require.Len(t, unbound, 2)
	assert.Equal(t, "pop_2", unbound[0].ID, "an undecodable code counts as unbound")

	noExp := allocation.FindConsumersWithoutExpenses(consumers)
	require.Len(t, noExp, 2)
	assert.Equal(t, "pop_3", noExp[1].ID)
}

func TestValidateLocationMatch(t *testing.T) {
	c := population("pop_1", "Северный", "100", "")

	ok, reason := allocation.ValidateLocationMatch(c, pipeline("P1", "северный"))
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = allocation.ValidateLocationMatch(c, pipeline("P1", "Южный"))
	assert.False(t, ok)
	assert.Equal(t, "settlement mismatch: Северный != Южный", reason)

	p := pipeline("P1", "Северный")
	p.District = "Южный район"
	ok, reason = allocation.ValidateLocationMatch(c, p)
	assert.False(t, ok)
	assert.Contains(t, reason, "district mismatch")
}

func TestFindGRSMismatches(t *testing.T) {
	grs := []allocation.GRS{{ID: "1", Name: "ГРС Север"}, {ID: "2", Name: "ГРС Юг"}}

	matching := organization("org_1", "A", "Северный", "1", "P1|1|ГРС Север")
	matching.GRSReferenceID = "1"
	wrong := organization("org_2", "B", "Северный", "1", "P1|1|ГРС Север")
	wrong.GRSReferenceID = "2"
	unknownRef := organization("org_3", "C", "Северный", "1", "P1|1|ГРС Север")
	unknownRef.GRSReferenceID = "99"
	empty := organization("org_4", "D", "Северный", "1", "P1|1|ГРС Север")
	unbound := organization("org_5", "E", "Северный", "1", "")
	pop := population("pop_1", "Северный", "1", "P1|1|ГРС Юг")

	got := allocation.FindGRSMismatches([]allocation.Consumer{matching, wrong, unknownRef, empty, unbound, pop}, grs)

	require.Len(t, got, 3)
	assert.Equal(t, "org_2", got[0].Consumer.ID)
	assert.Equal(t, allocation.IssueGRSMismatch, got[0].Issue)
	assert.Equal(t, "ГРС Юг", got[0].GRSByReference)
	assert.Equal(t, "ГРС Север", got[0].GRSInCode)

	assert.Equal(t, "org_3", got[1].Consumer.ID)
	assert.Equal(t, "99", got[1].GRSByReference, "unknown references fall back to the raw id")

	assert.Equal(t, "org_4", got[2].Consumer.ID)
	assert.Equal(t, allocation.IssueEmptyGRSReference, got[2].Issue)
}

func TestGRSNameByID(t *testing.T) {
	grs := []allocation.GRS{{ID: "1", Name: "ГРС Север"}}
	assert.Equal(t, "ГРС Север", allocation.GRSNameByID(grs, " 1 "))
	assert.Equal(t, "ГРС 5", allocation.GRSNameByID(grs, "5"))
}

func TestCheckShareTotals(t *testing.T) {
	consumers := []allocation.Consumer{
		population("pop_1", "x", "1", "P1|1|g"),
		population("pop_2", "x", "1", "P1|0,5|g"),
		population("pop_3", "x", "1", "P1|0,7|g;P2|0,7|g"),
		population("pop_4", "x", "1", ""),
		population("pop_5", "x", "1", "P1|0,99995|g"),
	}

	got := allocation.CheckShareTotals(consumers)

	require.Len(t, got, 2)
	assert.Equal(t, "pop_2", got[0].Consumer.ID)
	assert.Equal(t, allocation.ShareUnderAllocated, got[0].Kind)
	assert.Equal(t, "pop_3", got[1].Consumer.ID)
	assert.Equal(t, allocation.ShareOverAllocated, got[1].Kind)
}

package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
)

func TestSmartSearchOrganizations(t *testing.T) {
	consumers := []allocation.Consumer{
		organization("org_1", "ООО Ромашка", "Северный", "10", ""),
		organization("org_2", "РОМАШКА-Агро", "Северный", "", ""),
		organization("org_3", "ООО Лютик", "Северный", "10", ""),
		organization("org_4", "ООО Ромашка", "Южный", "10", ""),
		population("pop_1", "Северный", "10", ""),
	}

	t.Run("counts with and without expenses", func(t *testing.T) {
		res := allocation.SmartSearchOrganizations(consumers, allocation.OrganizationQuery{
			District: "Северный район", Settlement: "Северный", NamePattern: "ромашка",
		})
		assert.Equal(t, 2, res.TotalCount)
		assert.Equal(t, 1, res.WithExpensesCount)
		assert.Equal(t, 1, res.WithoutExpensesCount)
		assert.Equal(t, []int{0, 1}, res.Indices())
	})

	t.Run("require expenses", func(t *testing.T) {
		res := allocation.SmartSearchOrganizations(consumers, allocation.OrganizationQuery{
			District: "Северный район", Settlement: "Северный", NamePattern: "ромашка", RequireExpenses: true,
		})
		require.Equal(t, 1, res.TotalCount)
		assert.Equal(t, "org_1", res.Matches[0].Consumer.ID)
		assert.True(t, res.Matches[0].HasExpenses)
	})

	t.Run("empty pattern matches all organizations", func(t *testing.T) {
		res := allocation.SmartSearchOrganizations(consumers, allocation.OrganizationQuery{
			District: "Северный район", Settlement: "Северный",
		})
		assert.Equal(t, 3, res.TotalCount)
	})
}

func TestFindConsumersByLocation(t *testing.T) {
	consumers := []allocation.Consumer{
		population("pop_1", "Северный", "10", ""),
		organization("org_1", "A", "Северный", "10", ""),
		organization("org_2", "B", "Южный", "10", ""),
	}

	all := allocation.FindConsumersByLocation(consumers, "северный район", "северный", "")
	assert.Equal(t, 2, all.TotalCount)

	orgs := allocation.FindConsumersByLocation(consumers, "Северный район", "Северный", allocation.KindOrganization)
	require.Equal(t, 1, orgs.TotalCount)
	assert.Equal(t, 1, orgs.Matches[0].Index)
}

func TestFilterConsumers(t *testing.T) {
	yes, no := true, false
	consumers := []allocation.Consumer{
		population("pop_1", "Северный", "10", "P1|1|g"),
		organization("org_1", "A", "Северный", "10", ""),
		organization("org_2", "B", "Южный", "", ""),
	}

	res := allocation.FilterConsumers(consumers, allocation.ConsumerFilter{HasBindings: &no, HasExpenses: &yes})
	require.Equal(t, 1, res.TotalCount)
	assert.Equal(t, "org_1", res.Matches[0].Consumer.ID)

	res = allocation.FilterConsumers(consumers, allocation.ConsumerFilter{Kind: allocation.KindOrganization, Settlement: "южный"})
	require.Equal(t, 1, res.TotalCount)
	assert.Equal(t, "org_2", res.Matches[0].Consumer.ID)
}

func TestFindPipelineByID(t *testing.T) {
	pipelines := []allocation.Pipeline{pipeline("PRG-1a", "Северный")}

	p, ok := allocation.FindPipelineByID(pipelines, " prg-1A ")
	require.True(t, ok)
	assert.Equal(t, "PRG-1a", p.PipelineID)

	_, ok = allocation.FindPipelineByID(pipelines, "PRG-2")
	assert.False(t, ok)
}

func TestDistinctValues(t *testing.T) {
	pipelines := []allocation.Pipeline{
		{PipelineID: "P2", District: "Южный район", Settlement: "Яблоневка"},
		{PipelineID: "P1", District: " Южный район ", Settlement: "Абрамово"},
		{PipelineID: "P1", District: "Южный район", Settlement: "Абрамово"},
		{PipelineID: "P3", District: "Армавирский", Settlement: " "},
		{PipelineID: "P4", District: "", Settlement: "Нигде"},
	}

	assert.Equal(t, []string{"Армавирский", "Южный район"}, allocation.UniqueDistricts(pipelines))
	assert.Equal(t, []string{"Абрамово", "Яблоневка"}, allocation.SettlementsInDistrict(pipelines, "южный район"))
	assert.Equal(t, []string{"P1"}, allocation.PipelineIDsAtLocation(pipelines, "Южный район", "абрамово"))

	consumers := []allocation.Consumer{population("pop_1", "Северный", "1", "")}
	assert.Equal(t, []string{"Северный район"}, allocation.UniqueDistricts(consumers))
}

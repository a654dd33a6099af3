package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/convivencia/internal/domain"
)

func ids(actions []domain.FollowUp) []string {
	out := make([]string, 0, len(actions))
	for _, action := range actions {
		out = append(out, action.ID)
	}
	return out
}

func TestGroupByStageEmptyInput(t *testing.T) {
	buckets := GroupByStage(nil)
	require.NotNil(t, buckets)
	assert.Empty(t, buckets)
	assert.NotNil(t, buckets.For("1. Intake"))
	assert.Empty(t, buckets.For("1. Intake"))
	assert.Equal(t, 0, buckets.Count())
}

func TestOrderedYieldsEveryStage(t *testing.T) {
	stages := []string{"1. Intake", "2. Investigation", "3. Closure"}
	buckets := GroupByStage([]domain.FollowUp{
		{ID: "a", Stage: "3. Closure", Date: "2024-05-01"},
	})

	ordered := buckets.Ordered(stages)
	require.Len(t, ordered, 3)
	for i, bucket := range ordered {
		assert.Equal(t, stages[i], bucket.Stage)
		assert.Equal(t, i+1, bucket.Index)
		assert.NotNil(t, bucket.Actions)
	}
	assert.Empty(t, ordered[0].Actions)
	assert.Empty(t, ordered[1].Actions)
	assert.Equal(t, []string{"a"}, ids(ordered[2].Actions))
	assert.Equal(t, "Closure", ordered[2].Label)
}

func TestGroupByStageSortsByDateStable(t *testing.T) {
	buckets := GroupByStage([]domain.FollowUp{
		{ID: "march", Stage: "1. Intake", Date: "2024-03-01"},
		{ID: "nodate", Stage: "1. Intake", Date: ""},
		{ID: "jan", Stage: "1. Intake", Date: "2024-01-15"},
		{ID: "jan-second", Stage: "1. Intake", Date: "2024-01-15"},
	})

	got := buckets.For("1. Intake")
	assert.Equal(t, []string{"nodate", "jan", "jan-second", "march"}, ids(got))
}

func TestGroupByStageMalformedDateSortsFirst(t *testing.T) {
	buckets := GroupByStage([]domain.FollowUp{
		{ID: "dated", Stage: "x", Date: "2024-01-01"},
		{ID: "garbage", Stage: "x", Date: "soon"},
		{ID: "timestamp", Stage: "x", Date: "2023-12-31T10:00:00Z"},
	})
	assert.Equal(t, []string{"garbage", "timestamp", "dated"}, ids(buckets.For("x")))
}

func TestGroupByStageFiltersAutomaticStart(t *testing.T) {
	buckets := GroupByStage([]domain.FollowUp{
		{ID: "marker", Stage: "1. Intake", Detail: "INICIO AUTOMATICO del proceso"},
		{ID: "accented", Stage: "1. Intake", Observations: "Inicio automático"},
		{ID: "real", Stage: "1. Intake", Detail: "Entrevista con apoderado"},
	})
	assert.Equal(t, []string{"real"}, ids(buckets.For("1. Intake")))
	assert.Equal(t, 1, buckets.Count())
}

func TestGroupByStageNoStageFallback(t *testing.T) {
	buckets := GroupByStage([]domain.FollowUp{
		{ID: "blank", Stage: "   "},
		{ID: "empty"},
		{ID: "staged", Stage: "1. Intake"},
	})
	assert.Equal(t, []string{"blank", "empty"}, ids(buckets[domain.NoStageLabel]))

	orphans := buckets.Orphans([]string{"1. Intake"})
	require.Len(t, orphans, 1)
	assert.Equal(t, domain.NoStageLabel, orphans[0].Stage)
	assert.Equal(t, 0, orphans[0].Index)
}

func TestGroupByStageEndToEnd(t *testing.T) {
	stages := []string{"1. Intake", "2. Investigation", "3. Closure"}
	actions := []domain.FollowUp{
		{ID: "1", Stage: "1. Intake", Date: "2024-02-01"},
		{ID: "2", Stage: " 1.  Intake ", Date: "2024-01-10"},
	}

	ordered := GroupByStage(actions).Ordered(stages)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"2", "1"}, ids(ordered[0].Actions))
	assert.Equal(t, []domain.FollowUp{}, ordered[1].Actions)
	assert.Equal(t, []domain.FollowUp{}, ordered[2].Actions)
}

func TestOrderedNormalizesLookupKeys(t *testing.T) {
	buckets := GroupByStage([]domain.FollowUp{{ID: "a", Stage: "1. Intake"}})
	ordered := buckets.Ordered([]string{" 1.  Intake "})
	require.Len(t, ordered, 1)
	assert.Equal(t, []string{"a"}, ids(ordered[0].Actions))
}

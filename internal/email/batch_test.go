package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSearches_ColdStartScansEverything(t *testing.T) {
	plan := planSearches(nil, nil)

	assert.True(t, plan.cold)
	require.NotNil(t, plan.arrivals)
	assert.Equal(t, uidRange{From: 1}, *plan.arrivals, "1:* listing")
	assert.Nil(t, plan.historical)
}

func TestPlanSearches_WarmAndBackfill(t *testing.T) {
	high, low := int64(40), int64(10)

	plan := planSearches(&high, &low)

	assert.False(t, plan.cold)
	require.NotNil(t, plan.arrivals)
	assert.Equal(t, uidRange{From: 41}, *plan.arrivals)
	require.NotNil(t, plan.historical)
	assert.Equal(t, uidRange{From: 1, To: 9}, *plan.historical)
}

func TestPlanSearches_LowOfOneSkipsHistoricalSearch(t *testing.T) {
	high, low := int64(40), int64(1)

	plan := planSearches(&high, &low)

	require.NotNil(t, plan.arrivals)
	assert.Nil(t, plan.historical, "no UIDs below 1 can exist")
}

func TestPlanSearches_NoLowMarkMeansNoHistoricalSearch(t *testing.T) {
	high := int64(40)

	plan := planSearches(&high, nil)

	assert.False(t, plan.cold)
	require.NotNil(t, plan.arrivals)
	assert.Nil(t, plan.historical)
}

func TestAbove_DropsEchoedHighMark(t *testing.T) {
	// 41:* against a mailbox topping out at UID 40 answers with 40 itself.
	assert.Empty(t, above([]int64{40}, 40))
	assert.Equal(t, []int64{41, 42}, above([]int64{40, 41, 42}, 40))
	assert.Empty(t, above(nil, 40))
}

func TestBuildBatch_NewArrivalsFirst(t *testing.T) {
	got := BuildBatch([]int64{21, 20, 22}, []int64{5, 3, 4}, 0)
	assert.Equal(t, []int64{20, 21, 22, 3, 4, 5}, got)
}

func TestBuildBatch_TruncationDropsHistoricalFirst(t *testing.T) {
	newUIDs := []int64{101, 102, 103}
	historical := []int64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

	got := BuildBatch(newUIDs, historical, 5)

	assert.Len(t, got, 5)
	assert.Equal(t, []int64{101, 102, 103, 10, 11}, got,
		"all new arrivals survive, historical filled oldest-first")
}

func TestBuildBatch_TruncationCanDropNewArrivals(t *testing.T) {
	// Only when new arrivals alone exceed the limit.
	got := BuildBatch([]int64{1, 2, 3, 4, 5, 6}, nil, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, got)
}

func TestBuildBatch_EmptyInputs(t *testing.T) {
	assert.Empty(t, BuildBatch(nil, nil, 10))
	assert.Equal(t, []int64{7}, BuildBatch(nil, []int64{7}, 10))
	assert.Equal(t, []int64{7}, BuildBatch([]int64{7}, nil, 10))
}

func TestBuildBatch_ZeroLimitMeansUnbounded(t *testing.T) {
	got := BuildBatch([]int64{2, 1}, []int64{4, 3}, 0)
	assert.Equal(t, []int64{1, 2, 3, 4}, got)
}

func TestTailUIDs_ColdStartKeepsNewest(t *testing.T) {
	var all []int64
	for uid := int64(1); uid <= 20; uid++ {
		all = append(all, uid)
	}

	got := TailUIDs(all, 10)

	assert.Equal(t, []int64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, got,
		"newest limit UIDs, still ascending")
}

func TestTailUIDs_FewerThanLimit(t *testing.T) {
	got := TailUIDs([]int64{3, 1, 2}, 10)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

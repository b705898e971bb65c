package allocation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"datanexus-marketplace/services/inventory"
)

func batchOf(scores ...int) []*inventory.Item {
	items := make([]*inventory.Item, len(scores))
	for i, s := range scores {
		items[i] = &inventory.Item{
			ID:           fmt.Sprintf("item-%d", i+1),
			OwnerID:      fmt.Sprintf("owner-%d", i+1),
			QualityScore: s,
		}
	}
	return items
}

func TestSplitWeightedScenario(t *testing.T) {
	// Five items at $25.00 each make a $125.00 pot; quality 350 in total.
	batch := batchOf(90, 80, 70, 60, 50)

	got := Split(batch, 2500)
	require.Len(t, got, 5)

	require.Equal(t, int64(3214), got[0].Amount) // $32.14 for quality 90
	require.Equal(t, int64(2857), got[1].Amount)
	require.Equal(t, int64(2500), got[2].Amount)
	require.Equal(t, int64(2143), got[3].Amount)
	require.Equal(t, int64(1786), got[4].Amount) // $17.86 for quality 50

	var sum int64
	for _, p := range got {
		sum += p.Amount
	}
	require.Equal(t, int64(12500), sum, "proceeds must reconcile to the batch price exactly")
}

func TestSplitSumsExactlyAcrossAwkwardWeights(t *testing.T) {
	cases := [][]int{
		{1, 1, 1},
		{97, 3},
		{33, 33, 33, 1},
		{100},
		{7, 11, 13, 17, 19, 23, 29},
	}

	for _, scores := range cases {
		batch := batchOf(scores...)
		got := Split(batch, 2500)

		var sum int64
		for _, p := range got {
			sum += p.Amount
		}
		require.Equal(t, Total(len(batch), 2500), sum, "scores %v", scores)
	}
}

func TestSplitZeroQualityFallsBackToEvenSplit(t *testing.T) {
	got := Split(batchOf(0, 0, 0), 2500)
	require.Len(t, got, 3)

	require.Equal(t, int64(2500), got[0].Amount)
	require.Equal(t, int64(2500), got[1].Amount)
	require.Equal(t, int64(2500), got[2].Amount)
}

func TestSplitSingleItemTakesWholePot(t *testing.T) {
	got := Split(batchOf(42), 2500)
	require.Len(t, got, 1)
	require.Equal(t, int64(2500), got[0].Amount)
}

func TestSplitEmptyBatch(t *testing.T) {
	require.Nil(t, Split(nil, 2500))
	require.Nil(t, Split([]*inventory.Item{}, 2500))
}

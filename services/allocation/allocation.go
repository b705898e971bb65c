package allocation

import (
	"datanexus-marketplace/services/inventory"
)

// Proceeds is one item's slice of the batch price.
type Proceeds struct {
	ItemID  string
	OwnerID string
	Amount  int64
}

// Split distributes the fixed batch price across the claimed items in
// proportion to their quality scores. Amounts are integer cents; remainders
// from the proportional division are handed out by largest fractional part
// (ties to the earlier item) so the proceeds always sum to exactly
// len(batch) * pricePerItem. When no item carries any quality the pot is
// split evenly instead.
func Split(batch []*inventory.Item, pricePerItem int64) []Proceeds {
	if len(batch) == 0 {
		return nil
	}

	total := int64(len(batch)) * pricePerItem

	var totalQuality int64
	for _, item := range batch {
		totalQuality += int64(item.QualityScore)
	}

	out := make([]Proceeds, len(batch))
	remainders := make([]int64, len(batch))
	var allocated int64

	for i, item := range batch {
		var share, rem int64
		if totalQuality > 0 {
			share = total * int64(item.QualityScore) / totalQuality
			rem = total * int64(item.QualityScore) % totalQuality
		} else {
			// No quality anywhere: even split, which is exact because the
			// pot is len(batch) * pricePerItem.
			share = pricePerItem
		}
		out[i] = Proceeds{ItemID: item.ID, OwnerID: item.OwnerID, Amount: share}
		remainders[i] = rem
		allocated += share
	}

	for leftover := total - allocated; leftover > 0; leftover-- {
		best := 0
		for i := 1; i < len(remainders); i++ {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		out[best].Amount++
		remainders[best] = -1
	}

	return out
}

// Total is the fixed price of a batch.
func Total(batchLen int, pricePerItem int64) int64 {
	return int64(batchLen) * pricePerItem
}

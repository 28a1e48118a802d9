package accel

// PlanBatches groups structure sizes into consecutive batches whose sum stays
// within budget. A size larger than the budget on its own gets a batch of
// its own. The result holds indices into sizes.
func PlanBatches(sizes []uint64, budget uint64) [][]int {
	var batches [][]int
	var current []int
	var total uint64
	for i, size := range sizes {
		if len(current) > 0 && total+size > budget {
			batches = append(batches, current)
			current, total = nil, 0
		}
		current = append(current, i)
		total += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

package tensor

import (
	"context"

	"go.viam.com/mvg/utils"
)

// ForEachBatch runs fn once per batch element. Large batches are split across workers; fn
// must only write to state owned by its own batch index.
func ForEachBatch(n int, fn func(b int)) error {
	return utils.GroupWorkParallel(
		context.Background(),
		n,
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				fn(workNum)
			}, nil
		},
	)
}

// MapBlocks calls fn for every batch index, in parallel, and assembles the returned blocks
// into a tensor of shape batch+inner.
func MapBlocks(
	batch Shape,
	inner Shape,
	fn func(b int) []float64,
	opts ...Option,
) (*Dense, error) {
	n := batch.NumElements()
	blocks := make([][]float64, n)
	if err := ForEachBatch(n, func(b int) {
		blocks[b] = fn(b)
	}); err != nil {
		return nil, err
	}
	return FromBlocks(batch, inner, blocks, opts...)
}

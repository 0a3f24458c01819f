package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

// MinParallelWork is the smallest number of work items worth splitting across goroutines.
// Anything smaller runs on the calling goroutine.
var MinParallelWork = 64

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated number of groups.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// NumGroups returns how many groups GroupWorkParallel will split totalSize items into.
func NumGroups(totalSize int) int {
	if totalSize <= 0 {
		return 0
	}
	if totalSize < MinParallelWork || ParallelFactor == 1 {
		return 1
	}
	if totalSize < ParallelFactor {
		return totalSize
	}
	return ParallelFactor
}

// GroupWorkParallel parallelizes the given size of work over multiple workers.
// Each group gets a contiguous [from, to) range; the last group absorbs the remainder.
// A panic in any group is returned as an error once all groups finish.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	numGroups := NumGroups(totalSize)
	if before != nil {
		before(numGroups)
	}
	if numGroups == 0 {
		return ctx.Err()
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var (
		wait     sync.WaitGroup
		errMu    sync.Mutex
		groupErr error
	)
	runGroup := func(groupNum int) {
		thisGroupSize := groupSize
		thisExtra := 0
		if groupNum == numGroups-1 {
			thisExtra = extra
			thisGroupSize += thisExtra
		}
		from := groupSize * groupNum
		to := groupSize*(groupNum+1) + thisExtra
		memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
		if memberWork != nil {
			memberNum := 0
			for workNum := from; workNum < to; workNum++ {
				if ctx.Err() != nil {
					return
				}
				memberWork(memberNum, workNum)
				memberNum++
			}
		}
		if groupWorkDone != nil {
			groupWorkDone()
		}
	}

	guarded := func(groupNum int) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				errMu.Lock()
				groupErr = multierr.Combine(groupErr, fmt.Errorf("group %d panicked: %v", groupNum, thePanic))
				errMu.Unlock()
			}
		}()
		runGroup(groupNum)
	}

	if numGroups == 1 {
		guarded(0)
		return multierr.Combine(groupErr, ctx.Err())
	}

	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			guarded(groupNum)
		})
	}
	wait.Wait()
	return multierr.Combine(groupErr, ctx.Err())
}

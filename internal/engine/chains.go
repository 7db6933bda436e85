package engine

import "maestro/internal/types"

// groupChains partitions a runnable client-target slice into dependency
// chains, each preserving dependency order. A chain is a maximal sequence
// t1..tk where every t(i+1) depends on t(i) and on no other task of the
// slice. The first unprocessed task in insertion order starts a chain;
// extension picks the earliest dependent in insertion order, ties broken by
// id.
func groupChains(tasks []*types.TaskRecord) [][]*types.TaskRecord {
	if len(tasks) == 0 {
		return nil
	}

	inSlice := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		inSlice[task.TaskID] = true
	}
	processed := make(map[string]bool, len(tasks))

	var chains [][]*types.TaskRecord
	for _, head := range tasks {
		if processed[head.TaskID] {
			continue
		}
		chain := []*types.TaskRecord{head}
		processed[head.TaskID] = true

		currentID := head.TaskID
		for {
			next := nextLink(tasks, inSlice, processed, currentID)
			if next == nil {
				break
			}
			chain = append(chain, next)
			processed[next.TaskID] = true
			currentID = next.TaskID
		}
		chains = append(chains, chain)
	}
	return chains
}

// nextLink finds the chain extension for currentID: the earliest unprocessed
// task (in slice order) that depends on it and on nothing else inside the
// slice.
func nextLink(tasks []*types.TaskRecord, inSlice, processed map[string]bool, currentID string) *types.TaskRecord {
	for _, task := range tasks {
		if processed[task.TaskID] || !task.DependsOnTask(currentID) {
			continue
		}
		eligible := true
		for _, dep := range task.DependsOn {
			if dep != currentID && inSlice[dep] {
				eligible = false
				break
			}
		}
		if eligible {
			return task
		}
	}
	return nil
}

// Package plan turns a research query into an executable plan: optional
// decomposition into sub-queries, LLM planning with bounded iterations, and
// the dependency layering shared by both.
package plan

// Layers groups items into execution batches: within a batch items are
// mutually independent, and every item in batch k has all its in-set
// dependencies in earlier batches. Items whose dependencies reference IDs
// outside the set (directly or through such an item) cannot be ordered and
// run together as the final batch, in declaration order. If no item
// qualifies while items remain (a cycle), the remainder is returned as one
// batch and cycled is true.
func Layers[T any](items []T, id func(T) string, deps func(T) []string) (batches [][]T, cycled bool) {
	inSet := make(map[string]bool, len(items))
	for _, it := range items {
		inSet[id(it)] = true
	}

	// Unresolvable references propagate: anything depending on a deferred
	// item is deferred too.
	deferredSet := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for _, it := range items {
			if deferredSet[id(it)] {
				continue
			}
			for _, d := range deps(it) {
				if !inSet[d] || deferredSet[d] {
					deferredSet[id(it)] = true
					changed = true
					break
				}
			}
		}
	}

	var deferred []T
	var remaining []T
	for _, it := range items {
		if deferredSet[id(it)] {
			deferred = append(deferred, it)
		} else {
			remaining = append(remaining, it)
		}
	}

	completed := make(map[string]bool, len(remaining))
	for len(remaining) > 0 {
		var batch []T
		var next []T
		for _, it := range remaining {
			ready := true
			for _, d := range deps(it) {
				if !completed[d] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, it)
			} else {
				next = append(next, it)
			}
		}

		if len(batch) == 0 {
			// Cycle: run what is left together.
			batches = append(batches, remaining)
			cycled = true
			break
		}

		for _, it := range batch {
			completed[id(it)] = true
		}
		batches = append(batches, batch)
		remaining = next
	}

	if len(deferred) > 0 {
		batches = append(batches, deferred)
	}
	return batches, cycled
}

package flowgraph

// Replace returns the default merge policy: the update overwrites the field.
func Replace[T any]() MergeFunc[T] {
	return func(_, update T) T {
		return update
	}
}

// Append returns an additive policy for sequences: update elements are
// appended after the existing ones, order preserved.
func Append[E any]() MergeFunc[[]E] {
	return func(current, update []E) []E {
		out := make([]E, 0, len(current)+len(update))
		out = append(out, current...)
		return append(out, update...)
	}
}

// Window returns an additive policy that keeps only the last n elements
// after appending. n <= 0 keeps everything.
func Window[E any](n int) MergeFunc[[]E] {
	appendAll := Append[E]()
	return func(current, update []E) []E {
		out := appendAll(current, update)
		if n > 0 && len(out) > n {
			out = append([]E(nil), out[len(out)-n:]...)
		}
		return out
	}
}

// UpsertByID returns a policy that merges sequence entries by identity.
// An update entry whose id matches an existing entry replaces it in place;
// unmatched entries are appended. If removed is non-nil and reports true for
// an update entry, the existing entry with that id is deleted instead.
func UpsertByID[E any, K comparable](id func(E) K, removed func(E) bool) MergeFunc[[]E] {
	return func(current, update []E) []E {
		out := append([]E(nil), current...)
		index := make(map[K]int, len(out))
		for i, e := range out {
			index[id(e)] = i
		}

		var drop map[K]bool
		for _, e := range update {
			key := id(e)
			if removed != nil && removed(e) {
				if drop == nil {
					drop = make(map[K]bool)
				}
				drop[key] = true
				continue
			}
			if i, ok := index[key]; ok {
				out[i] = e
				delete(drop, key)
				continue
			}
			index[key] = len(out)
			out = append(out, e)
			delete(drop, key)
		}

		if len(drop) == 0 {
			return out
		}
		kept := out[:0]
		for _, e := range out {
			if !drop[id(e)] {
				kept = append(kept, e)
			}
		}
		return kept
	}
}

// Sum returns a policy for numeric counters: the update is added.
func Sum[T int | int64 | float64]() MergeFunc[T] {
	return func(current, update T) T {
		return current + update
	}
}

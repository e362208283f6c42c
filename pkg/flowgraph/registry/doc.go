// Package registry provides a generic thread-safe registry for values indexed by key.
//
// Registry is designed for read-heavy workloads using sync.RWMutex. It supports
// any comparable key type and any value type through Go generics, and it keeps
// insertion order so listings are stable.
//
// # Basic Usage
//
//	r := registry.New[string, int]()
//	if err := r.Add("one", 1); err != nil {
//	    // errors.Is(err, registry.ErrDuplicate)
//	}
//
//	value, ok := r.Get("one")
//
// Add refuses to overwrite, which is what the tool registry and the toolbox
// rely on to reject duplicate operation names. Register is the upsert form.
//
// # Lazy Initialization
//
// Use GetOrCreate for thread-safe lazy initialization:
//
//	channels := registry.New[string, *stdio.Channel]()
//	ch := channels.GetOrCreate("forex", func() *stdio.Channel {
//	    return newChannel("forex")
//	})
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Range iterates over a
// snapshot, allowing mutations during iteration without affecting it.
package registry

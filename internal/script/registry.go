package script

import lua "github.com/yuin/gopher-lua"

// Registry maps opaque integer handles to script callables.
//
// Worker goroutines only ever see the integer ids; the callables themselves
// never cross a goroutine boundary. The Registry performs no invocation and
// is confined to the owning goroutine, so it needs no locking.
type Registry struct {
	nextID    int
	callables map[int]*lua.LFunction
}

// NewRegistry creates an empty registry. Ids start at 1; 0 always means
// "no callback".
func NewRegistry() *Registry {
	return &Registry{
		callables: make(map[int]*lua.LFunction),
	}
}

// Register stores a callable and returns its id. Ids are unique for the
// registry's lifetime and never reused.
func (r *Registry) Register(fn *lua.LFunction) int {
	r.nextID++
	r.callables[r.nextID] = fn
	return r.nextID
}

// Get returns the callable for id, or nil if it was never registered or
// has been unregistered.
func (r *Registry) Get(id int) *lua.LFunction {
	return r.callables[id]
}

// Unregister removes and returns the callable for id, or nil if absent.
// Unregistering id 0 or an unknown id is harmless.
func (r *Registry) Unregister(id int) *lua.LFunction {
	fn, ok := r.callables[id]
	if !ok {
		return nil
	}
	delete(r.callables, id)
	return fn
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	return len(r.callables)
}

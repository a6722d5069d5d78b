package distwq

import (
	"fmt"
	"sync"
)

// Callable is a registered function a controller can dispatch by name.
// REDESIGN FLAG: the original implementation resolved a task's symbol via
// textual module/attribute lookup (effectively eval); here a worker process
// must Register every name it can serve before it starts polling, and the
// controller only ever transmits the registered name as an opaque key.
type Callable func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Registry is the process-wide name -> Callable table each worker builds at
// startup. It is the one piece of process-wide mutable state this
// implementation shares between components, matching spec.md's allowance
// for a single process-wide module cache.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Callable
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Callable)}
}

// Register adds name as a callable symbol. Re-registering the same name
// overwrites the previous entry.
func (r *Registry) Register(module, name string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key(module, name)] = fn
}

// Resolve looks up a previously registered symbol.
func (r *Registry) Resolve(module, name string) (Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[key(module, name)]
	if !ok {
		return nil, &ProtocolViolationError{Reason: fmt.Sprintf("unregistered symbol %s.%s", module, name)}
	}
	return fn, nil
}

func key(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

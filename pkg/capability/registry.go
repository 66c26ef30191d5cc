package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound reports an invocation of a name no one registered.
var ErrNotFound = errors.New("capability: not found")

// ErrExecutionFailed wraps an executor error or a validation failure.
var ErrExecutionFailed = errors.New("capability: execution failed")

type entry struct {
	def  Definition
	exec Func
}

// Registry keeps the mapping between capability names and executors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts a capability when its name is not in use.
func (r *Registry) Register(def Definition, exec Func) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("capability: name is empty")
	}
	if exec == nil {
		return fmt.Errorf("capability: %s has no executor", name)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("capability: %s already registered", name)
	}
	r.entries[name] = entry{def: def, exec: exec}
	return nil
}

// DescribeAll returns every registered definition, sorted by name. The
// result is what tool-call-capable backends advertise to the model.
func (r *Registry) DescribeAll() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Describe returns one definition by name.
func (r *Registry) Describe(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(name)]
	return e.def, ok
}

// Invoke validates required fields and runs the executor. A panic inside the
// executor is recovered into an error so one misbehaving capability cannot
// take the turn down.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (content string, err error) {
	r.mu.RLock()
	e, ok := r.entries[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validate(args, e.def.Schema); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExecutionFailed, name, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrExecutionFailed, name, rec)
		}
	}()
	content, execErr := e.exec(ctx, args)
	if execErr != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExecutionFailed, name, execErr)
	}
	return content, nil
}

// InvokeContent runs Invoke and folds any failure into the structured
// payload used as tool-message content, so a failed capability degrades to a
// visible error inside the conversation instead of aborting the turn.
func (r *Registry) InvokeContent(ctx context.Context, name string, args map[string]any) string {
	content, err := r.Invoke(ctx, name, args)
	if err != nil {
		return FailurePayload(err)
	}
	return content
}

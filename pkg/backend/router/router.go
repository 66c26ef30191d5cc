// Package router holds the registered backends and forwards generation
// calls to the selected one. The registry is append-mostly, so one Router
// can be shared across concurrently running turns.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/chat"
)

// Router dispatches to named backends. Holds no per-turn state.
type Router struct {
	mu       sync.RWMutex
	backends map[string]backend.Backend
	active   string
	log      zerolog.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger installs a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) { r.log = log }
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{
		backends: make(map[string]backend.Backend),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend under its descriptor name. Names are unique.
func (r *Router) Register(b backend.Backend) error {
	if b == nil {
		return fmt.Errorf("router: backend is nil")
	}
	name := strings.TrimSpace(b.Descriptor().Name)
	if name == "" {
		return fmt.Errorf("router: backend name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("%w: %s", backend.ErrDuplicateBackend, name)
	}
	r.backends[name] = b
	if r.active == "" {
		r.active = name
	}
	r.log.Debug().Str("backend", name).Msg("backend registered")
	return nil
}

// Select returns the adapter registered under name, or the active one when
// name is empty.
func (r *Router) Select(name string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if strings.TrimSpace(name) == "" {
		name = r.active
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownBackend, name)
	}
	return b, nil
}

// Use switches the active backend.
func (r *Router) Use(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("%w: %q", backend.ErrUnknownBackend, name)
	}
	r.active = name
	r.log.Info().Str("backend", name).Msg("active backend switched")
	return nil
}

// Active reports the currently selected backend name.
func (r *Router) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Names lists the registered backend names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for every registered backend, sorted by name.
func (r *Router) Describe() []backend.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]backend.Descriptor, 0, len(r.backends))
	for _, b := range r.backends {
		descs = append(descs, b.Descriptor())
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Complete forwards a unary call to the named (or active) backend.
func (r *Router) Complete(ctx context.Context, name string, req backend.Request) (chat.Message, error) {
	b, err := r.Select(name)
	if err != nil {
		return chat.Message{}, err
	}
	return b.Complete(ctx, gate(b, req))
}

// Stream forwards a streaming call. A backend that never declared streaming
// support is driven through Complete instead: its reply surfaces as one text
// Delta, one Delta per requested tool call, then done, so callers see one
// uniform contract.
func (r *Router) Stream(ctx context.Context, name string, req backend.Request, fn backend.StreamFunc) error {
	b, err := r.Select(name)
	if err != nil {
		return err
	}
	req = gate(b, req)
	if !b.Descriptor().Capabilities.SupportsStreaming {
		msg, err := b.Complete(ctx, req)
		if err != nil {
			return err
		}
		if err := fn(backend.TextDelta(msg.Content)); err != nil {
			return err
		}
		for _, call := range msg.ToolCalls {
			if err := fn(backend.ToolCallDelta(call)); err != nil {
				return err
			}
		}
		return fn(backend.DoneDelta(msg))
	}
	return b.Stream(ctx, req, fn)
}

// gate strips tool declarations for backends without tool-call support.
func gate(b backend.Backend, req backend.Request) backend.Request {
	if !b.Descriptor().Capabilities.SupportsToolCalls {
		req.Tools = nil
	}
	return req
}

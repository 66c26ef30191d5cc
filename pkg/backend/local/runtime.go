// Package local runs a resident model in-process and manages its residency
// in accelerator memory, which is scarce and shared with other consumers.
package local

import (
	"context"
	"errors"
	"fmt"
)

// Residency names the memory tier currently holding the model.
type Residency string

const (
	ResidencyUnloaded    Residency = "unloaded"
	ResidencyHost        Residency = "host_memory"
	ResidencyAccelerator Residency = "accelerator_memory"
)

// EvictionPolicy selects what happens to the resident model after a call.
type EvictionPolicy string

const (
	// EvictNone keeps the model resident for lowest latency.
	EvictNone EvictionPolicy = "none"
	// EvictCPU frees accelerator memory but keeps weights in host memory,
	// avoiding a full reload on the next call.
	EvictCPU EvictionPolicy = "cpu"
	// EvictFull releases the model entirely, forcing a reload next time.
	EvictFull EvictionPolicy = "full"
)

// ParseEvictionPolicy validates a policy string from configuration.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch EvictionPolicy(s) {
	case EvictNone, EvictCPU, EvictFull:
		return EvictionPolicy(s), nil
	case "":
		return EvictNone, nil
	default:
		return "", fmt.Errorf("local: unknown eviction policy %q", s)
	}
}

// ErrTierUnsupported reports a runtime that cannot migrate weights between
// memory tiers. The lifecycle manager degrades to a full release.
var ErrTierUnsupported = errors.New("local: runtime cannot migrate memory tiers")

// Runtime abstracts the actual inference engine behind the lifecycle
// manager so residency logic stays testable without accelerator hardware.
type Runtime interface {
	// Load reads weights from path and returns the tier they landed in:
	// accelerator memory when one is present, host memory otherwise.
	Load(ctx context.Context, path string) (Residency, error)
	// MoveToHost migrates loaded weights out of accelerator memory without
	// touching the weight source.
	MoveToHost() error
	// MoveToAccelerator migrates already-loaded weights back.
	MoveToAccelerator() error
	// Release frees the model and all auxiliary state.
	Release()
	// Generate decodes a reply for prompt, invoking onToken for every token
	// when non-nil. Returning an error from onToken stops decoding.
	Generate(ctx context.Context, prompt string, maxTokens int, onToken func(string) error) (string, error)
}

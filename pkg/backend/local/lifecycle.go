package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cexll/assistant-go/pkg/backend"
)

// Lifecycle tracks the residency of a single local model and serializes
// access to the runtime. The model cannot service two calls at once, so
// callers acquire it for the duration of a generation.
type Lifecycle struct {
	mu        sync.Mutex
	rt        Runtime
	modelPath string
	policy    EvictionPolicy

	residency Residency
	loads     int

	logger zerolog.Logger
}

// NewLifecycle wraps rt. The model stays unloaded until the first Acquire.
func NewLifecycle(rt Runtime, modelPath string, policy EvictionPolicy, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		rt:        rt,
		modelPath: modelPath,
		policy:    policy,
		residency: ResidencyUnloaded,
		logger:    logger.With().Str("component", "local.lifecycle").Logger(),
	}
}

// Acquire locks the model for one call and ensures it is resident. The
// returned release func applies the eviction policy and must be called
// exactly once. On load failure nothing was acquired and residency rolls
// back to unloaded.
func (l *Lifecycle) Acquire(ctx context.Context) (release func(), err error) {
	l.mu.Lock()
	if err := l.ensureResident(ctx); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	return func() {
		l.applyPolicy()
		l.mu.Unlock()
	}, nil
}

// Residency reports the current memory tier.
func (l *Lifecycle) Residency() Residency {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.residency
}

// Loads reports how many times the weight source has been read.
func (l *Lifecycle) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Close releases the model regardless of policy.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.residency != ResidencyUnloaded {
		l.rt.Release()
		l.residency = ResidencyUnloaded
	}
}

// ensureResident brings the model into accelerator memory (or host memory
// when no accelerator exists). Caller holds l.mu.
func (l *Lifecycle) ensureResident(ctx context.Context) error {
	switch l.residency {
	case ResidencyAccelerator:
		return nil

	case ResidencyHost:
		// Weights are already in host memory, no re-read of the source.
		if err := l.rt.MoveToAccelerator(); err == nil {
			l.residency = ResidencyAccelerator
			return nil
		} else if !errors.Is(err, ErrTierUnsupported) {
			l.logger.Warn().Err(err).Msg("tier migration failed, falling back to full reload")
		}
		l.rt.Release()
		l.residency = ResidencyUnloaded
		fallthrough

	case ResidencyUnloaded:
		tier, err := l.rt.Load(ctx, l.modelPath)
		if err != nil {
			l.residency = ResidencyUnloaded
			return fmt.Errorf("%w: %s: %v", backend.ErrModelLoadFailed, l.modelPath, err)
		}
		l.loads++
		l.residency = tier
		l.logger.Info().Str("path", l.modelPath).Str("residency", string(tier)).Int("loads", l.loads).Msg("model loaded")
		return nil

	default:
		return fmt.Errorf("local: invalid residency %q", l.residency)
	}
}

// applyPolicy runs after a call was actually issued. Caller holds l.mu.
func (l *Lifecycle) applyPolicy() {
	if l.residency == ResidencyUnloaded {
		return
	}
	switch l.policy {
	case EvictCPU:
		if l.residency != ResidencyAccelerator {
			return
		}
		if err := l.rt.MoveToHost(); err != nil {
			l.logger.Warn().Err(err).Msg("host eviction unsupported, releasing model")
			l.rt.Release()
			l.residency = ResidencyUnloaded
			return
		}
		l.residency = ResidencyHost
	case EvictFull:
		l.rt.Release()
		l.residency = ResidencyUnloaded
	case EvictNone:
	}
}

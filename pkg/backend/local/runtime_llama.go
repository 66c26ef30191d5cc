//go:build llama

package local

import (
	"context"
	"fmt"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaRuntime drives a GGUF model through llama.cpp bindings. The bindings
// cannot migrate weights between memory tiers, so cpu eviction degrades to
// a full release.
type llamaRuntime struct {
	model       *llama.LLama
	contextSize int
	threads     int
}

func newDefaultRuntime(contextSize, threads int) Runtime {
	return &llamaRuntime{contextSize: contextSize, threads: threads}
}

func (r *llamaRuntime) Load(_ context.Context, path string) (Residency, error) {
	opts := []llama.ModelOption{}
	if r.contextSize > 0 {
		opts = append(opts, llama.SetContext(r.contextSize))
	}
	model, err := llama.New(path, opts...)
	if err != nil {
		return ResidencyUnloaded, fmt.Errorf("llama load: %w", err)
	}
	r.model = model
	// llama.cpp offloads layers at load time when built with GPU support;
	// from this package's view the weights live wherever the build put them.
	return ResidencyAccelerator, nil
}

func (r *llamaRuntime) MoveToHost() error        { return ErrTierUnsupported }
func (r *llamaRuntime) MoveToAccelerator() error { return ErrTierUnsupported }

func (r *llamaRuntime) Release() {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
}

func (r *llamaRuntime) Generate(ctx context.Context, prompt string, maxTokens int, onToken func(string) error) (string, error) {
	if r.model == nil {
		return "", fmt.Errorf("llama: model not loaded")
	}
	var out strings.Builder
	var tokenErr error
	r.model.SetTokenCallback(func(token string) bool {
		if ctx.Err() != nil {
			return false
		}
		out.WriteString(token)
		if onToken != nil {
			if err := onToken(token); err != nil {
				tokenErr = err
				return false
			}
		}
		return true
	})
	defer r.model.SetTokenCallback(nil)

	po := []llama.PredictOption{}
	if maxTokens > 0 {
		po = append(po, llama.SetTokens(maxTokens))
	}
	if r.threads > 0 {
		po = append(po, llama.SetThreads(r.threads))
	}
	if _, err := r.model.Predict(prompt, po...); err != nil {
		return out.String(), fmt.Errorf("llama predict: %w", err)
	}
	if tokenErr != nil {
		return out.String(), tokenErr
	}
	if err := ctx.Err(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

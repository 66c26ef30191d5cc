//go:build !llama

package local

import (
	"context"
	"errors"
)

// ErrRuntimeUnavailable is returned when the binary was built without the
// llama tag and no custom runtime was supplied.
var ErrRuntimeUnavailable = errors.New("local: inference runtime not compiled in (build with -tags llama)")

type stubRuntime struct{}

func newDefaultRuntime(contextSize, threads int) Runtime {
	return stubRuntime{}
}

func (stubRuntime) Load(context.Context, string) (Residency, error) {
	return ResidencyUnloaded, ErrRuntimeUnavailable
}

func (stubRuntime) MoveToHost() error        { return ErrTierUnsupported }
func (stubRuntime) MoveToAccelerator() error { return ErrTierUnsupported }
func (stubRuntime) Release()                 {}

func (stubRuntime) Generate(context.Context, string, int, func(string) error) (string, error) {
	return "", ErrRuntimeUnavailable
}

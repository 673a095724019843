//go:build !linux

package keepawake

import (
	"context"

	apperrors "github.com/deckyboard/host/internal/errors"
)

// NewDefaultAdapter returns an adapter that always reports unsupported.
func NewDefaultAdapter() Adapter {
	return unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (unsupportedAdapter) Acquire(ctx context.Context) (Handle, error) {
	return nil, apperrors.New(apperrors.CodeKeepAwakeUnsupported, "keep-awake is only supported on Linux")
}

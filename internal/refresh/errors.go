package refresh

import (
	"errors"
	"fmt"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/snapshot"
)

// Error kinds reported in logs and metrics.
const (
	KindNetwork    = "network"
	KindValidation = "validation"
	KindRender     = "render"
	KindOther      = "other"
)

// RenderTargetMissingError means a view had nowhere to render: a client went
// away or a renderer was never attached.
type RenderTargetMissingError struct {
	Target string
	Err    error
}

func (e *RenderTargetMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render target %s missing: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("render target %s missing", e.Target)
}

func (e *RenderTargetMissingError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error for telemetry.
func ErrorKind(err error) string {
	var netErr *fetch.NetworkError
	var valErr *snapshot.ValidationError
	var renderErr *RenderTargetMissingError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &renderErr):
		return KindRender
	default:
		return KindOther
	}
}

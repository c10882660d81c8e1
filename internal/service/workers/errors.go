package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/botfleet/internal/registry"
)

// Error taxonomy surfaced by the Service. Transports map these to status
// codes; callers branch with errors.Is.
var (
	ErrNotFound           = errors.New("worker not found")
	ErrConflict           = errors.New("conflict")
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
	ErrTimeout            = errors.New("runtime call timed out")
	ErrValidation         = errors.New("invalid input")
)

// fromRegistry translates registry sentinels into the Service taxonomy.
func fromRegistry(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, registry.ErrNameTaken),
		errors.Is(err, registry.ErrBusy),
		errors.Is(err, registry.ErrIllegalTransition),
		errors.Is(err, registry.ErrNoPorts),
		errors.Is(err, registry.ErrStaleClaim):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

// fromRuntime translates a failed runtime call. A deadline is a timeout;
// cancellation by the caller passes through; anything else means the
// engine could not carry out the call.
func fromRuntime(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrRuntimeUnavailable, op, err)
	}
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRuntimeUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

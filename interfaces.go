package kotae

import (
	"context"
)

// RunHook receives a notification each time a console run settles
// (succeeded, failed, or canceled). Multiple hooks may be registered via
// multiple WithRunHook calls; all registered hooks receive every record.
// Hooks run on the update-dispatch goroutine and must not block
// indefinitely. Failures are logged but never affect the run itself.
type RunHook interface {
	OnRunSettled(ctx context.Context, record RunRecord) error
}

// Package fill drives idempotent, resumable writes of dispositioned field
// values into a live form through an abstract automation target.
package fill

import "context"

// Handle is an opaque reference to a located form element. Its concrete type
// belongs to the driver; the orchestrator only passes it back.
type Handle any

// Target is the capability contract the orchestrator requires from an
// automation driver. It could sit atop a browser driver, a native UI
// accessibility layer, or a mock. Implementations should wrap retryable
// failures with resilience.NewTransientError and unfixable ones with
// resilience.NewPermanentError; unclassified errors are pattern-matched.
//
// The orchestrator owns the target exclusively for the run's duration and
// calls it strictly sequentially: UI actions are stateful and order-dependent,
// so concurrent writes to the same form are unsafe.
type Target interface {
	// Locate finds the form element for the given field_id.
	Locate(ctx context.Context, fieldID string) (Handle, error)

	// Write sets the element's value. Returning nil means only that the
	// action did not error; confirmation requires a matching ReadBack.
	Write(ctx context.Context, h Handle, value string) error

	// ReadBack returns the element's current value as the form sees it.
	ReadBack(ctx context.Context, h Handle) (string, error)
}

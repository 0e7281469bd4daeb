// Package dispatch creates workload objects for delegated jobs.
//
// A Dispatcher consumes delegation intents from a bounded queue with a fixed
// pool of workers. Each attempt reads the object first and only creates it when
// it is missing, so retries and restarts never produce a second object for the
// same job identity. Concurrent attempts for one identity are serialized with a
// keyed lock.
//
// Errors are classified as transient (retried with exponential backoff and
// jitter up to MaxAttempts) or rejected (the record fails immediately):
//
//	err := d.Dispatch(ctx, spec, key)
//	switch {
//	case apperrors.IsCode(err, apperrors.ErrCodeTransient):
//		// retry later
//	case apperrors.IsCode(err, apperrors.ErrCodeRejected):
//		// give up
//	}
//
// Cancel deletes the workload on a best-effort basis and marks the record
// Failed without writing to accounting, since the scheduler initiated it.
package dispatch

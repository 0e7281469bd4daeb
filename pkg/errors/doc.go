// Package errors provides structured error types for better observability
// and programmatic error handling across the bridge.
//
// The codes double as the bridge's failure taxonomy: translation failures
// (UNSUPPORTED_RESOURCE, MISSING_IMAGE) are fatal to a submission, TRANSIENT
// dispatch failures are retried, REJECTED dispatch failures are not, and
// STALE marks a workload whose status stopped arriving.
//
// Example usage:
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeTransient,
//	    "failed to create workload",
//	    cause,
//	    map[string]any{
//	        "job": identity,
//	        "namespace": ns,
//	    },
//	)
package errors

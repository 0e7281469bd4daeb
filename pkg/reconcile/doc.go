// Package reconcile tracks dispatched workloads until they finish.
//
// The Reconciler subscribes to a StatusSource for every dispatched record and
// folds the observations into the record's phase. A periodic sweep marks
// records Lost when no observation arrived within the staleness timeout,
// retries undelivered accounting reports and removes terminal records once
// the retention window has passed.
//
// On start the Reconciler resumes every non-terminal record in the store:
// dispatched records are tracked again and records that never got a workload
// object are handed back to the dispatcher.
package reconcile

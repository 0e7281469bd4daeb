// Package gate decides, on the scheduler's submission path, whether a job is
// delegated to Kubernetes.
//
// Evaluate never performs network I/O. Jobs that request no mapped generic
// resource are accepted unchanged. Recognized jobs are translated, recorded
// and queued for the dispatcher; the scheduler then runs a small stub script
// in their place that waits for the delegated job to finish:
//
//	d := g.Evaluate(ctx, desc)
//	switch d.Verdict {
//	case gate.VerdictDelegate:
//		// replace the batch script with d.Script
//	case gate.VerdictReject:
//		// refuse the submission with d.Reason
//	}
package gate

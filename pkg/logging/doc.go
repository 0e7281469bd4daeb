// Package logging sets up the JSON slog logger shared by every sbridge
// command and the daemon.
//
// SetDefaultStructuredLoggerWithLevel is called once from the CLI root
// (and again by `sbridge serve` when the level comes from the config file).
// It installs a stderr JSON handler as the slog default, tags every record
// with the binary name and version, and points klog at the same logger so
// client-go messages about watches, retries and throttling come out in the
// same format as the bridge's own.
//
// The level is taken from --log-level or LOG_LEVEL (debug, info, warn or
// error; unknown values mean info). At debug level records carry their
// source location:
//
//	LOG_LEVEL=debug sbridge serve --config /etc/sbridge/config.yaml
//
// A dispatch attempt then logs as:
//
//	{"time":"2025-06-01T12:00:00Z","level":"DEBUG","source":{...},
//	 "msg":"dispatch intent queued","module":"sbridge","version":"v0.3.0",
//	 "identity":"hpc/4242","intent":"6f1c..."}
//
// The HTTP server's own error log (TLS handshakes, malformed requests) is
// routed through NewLogLogger at warn level. Packages log with the slog
// top-level functions and attach the job identity under the "identity" key,
// so one job can be followed from the submission hook through dispatch to
// reconciliation.
package logging

// Package errors provides structured error types for the shim.
//
// Errors are categorized by Phase (where in the run the error occurred) and
// Kind (error category). The Error type carries the context needed to
// diagnose a failed container start without re-running it: the offending
// digest, component id, trigger type or path, plus the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindUnresolved).
//		Component("api").
//		Digest("sha256:...").
//		Detail("content not in cache").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidSource("expected single packaged component layer", 2)
//	err := errors.UnsupportedTrigger("cron", supported)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so the exported sentinels work as targets:
//
//	if errors.Is(err, shimerrors.ErrUnsupportedTrigger) { ... }
package errors

// Package shim ties the pieces together for one container start: it
// resolves the invocation's layers into the cache, loads and filters the
// application, resolves variables, selects trigger types and supervises
// their tasks until the first one exits.
//
// Run maps the result to a process exit code. Cancellation is a clean
// shutdown; every other failure is exit code 1 with the structured error.
package shim

// Package errors defines the coded error values burrow uses to classify
// reconciliation failures: validation errors are permanent, execution and
// timeout errors are retried, conflicts trigger a silent re-evaluation and
// store errors abort the current cycle.
package errors

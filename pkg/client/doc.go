// Package client is the Go client of the burrow HTTP API used by the CLI.
//
// API errors come back as errors.Error values, so callers can test them
// with errors.Is(err, errors.ErrNotFound) and friends.
package client

/*
Package log provides structured logging for burrow using zerolog.

A single package-level Logger is configured once with Init and shared by
every component. Components derive child loggers that carry the fields used to
correlate a reconciliation across the store, the executor and the audit log:

	logger := log.WithComponent("reconciler")
	rlog := log.WithRecord("dns_zone", "example.com")
	rlog.Info().Int64("revision", 3).Msg("applied")

Console output is used by default; set Config.JSONOutput for log shippers.
Until Init is called the Logger discards everything, which keeps tests quiet.
*/
package log

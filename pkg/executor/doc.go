/*
Package executor is the single place burrow touches the host.

Every rendered artifact, whatever its kind, runs through Executor.Run, so
all of them get the same timeout, logging and error shape. Steps run in
order and the first failure stops the artifact.

	write_file   write to a temp file in the target directory, fsync, rename over the target
	remove_file  remove the target; a missing file is success
	command      exec an argument vector directly, never through a shell
	crontab      read the user's crontab, splice the marked line, install via a temp file

Run never returns an error or panics past its boundary: failures come back
in Result.Err as errors.ErrExecution or errors.ErrTimeout. When the
deadline passes the running process is killed and ExitCode is -1.

Verify is the read-only counterpart used by the drift sweep. It reports
every file, crontab line or certificate that no longer matches what the
artifact would produce.
*/
package executor

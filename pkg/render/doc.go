/*
Package render turns desired-state records into host artifacts.

Each resource kind has a Renderer with three pure operations:

	Validate(key, spec)  reject a spec before it is stored or executed
	Render(record)       the artifact that makes the host match the spec
	Teardown(record)     the artifact that removes what Render installed

Renderers perform no I/O. Everything they produce is a types.Artifact: file
writes, file removals, argument-vector commands and crontab splices, which
the executor carries out. Rendering the same record twice yields identical
bytes, so the drift sweep can compare a fresh render against the host.

# Kinds

	dns_zone         <zone_dir>/<domain>.zone, full regeneration, serial = desired revision
	cron_job         one crontab line tagged "# PANEL_JOB_<record id>"
	vhost            <vhost_dir>/vhost-<domain>.conf from a named template, optional .user.ini
	ssl_cert         certbot or win-acme issuance command, certificate drift check
	container_stack  <stack_dir>/<project>/compose.yaml and .env, docker compose up/down

All validation failures are errors.ErrValidation: permanent, never retried.
*/
package render

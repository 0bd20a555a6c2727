/*
Package api serves burrow's inbound interface over HTTP/JSON using chi.

# Endpoints

	GET    /v1/resources?kind=K                 list records, optionally of one kind
	GET    /v1/resources/{kind}/{key}           query one record
	POST   /v1/resources/{kind}/{key}           submit a desired spec (body: spec JSON)
	PUT    /v1/resources/{kind}/{key}           same as POST
	DELETE /v1/resources/{kind}/{key}           tombstone, teardown follows
	POST   /v1/resources/{kind}/{key}/retry     re-arm a record whose retries ran out
	GET    /v1/resources/{kind}/{key}/history   attempts, newest first (?limit=N)
	GET    /v1/records/{id}                     query by record id
	GET    /v1/records/{id}/history             attempts by record id, also after purge
	GET    /v1/events?kind=K                    newline-delimited JSON event stream

	GET    /health /ready /live                 component health
	GET    /metrics                             Prometheus metrics

# Errors

Every error body is {"error": {"code", "message", "cause"}}. Codes map to
status codes:

	validation, unsupported  400
	not_found                404
	conflict                 409
	anything else            500

A submission whose spec fails validation is still stored (as failed) and
answers 400 with both the record and the error. Accepted submissions,
removals and retries answer 202: the host catches up asynchronously.
*/
package api

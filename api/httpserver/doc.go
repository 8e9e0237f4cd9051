// Package httpserver exposes the record store over REST.
//
// The BaseServer carries the routes every node serves (liveness, readiness and
// Prometheus metrics) plus request logging and panic recovery. Components add their
// own endpoints by implementing RouteRegistrar; RecordHandler is the one the daemon
// registers:
//
//	GET  /            node status: version, build, protocol, connected peers
//	GET  /{globalID}  the signed envelope stored for globalID
//	POST /{globalID}  create, body is the envelope text
//	PUT  /{globalID}  update, body is the envelope text
//
// Record responses are JSON objects {"status": <code>, "message": <text>} whose
// status mirrors the HTTP status code.
package httpserver

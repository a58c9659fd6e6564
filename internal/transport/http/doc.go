// Package http implements the HTTP surface of the license service.
// Handlers are thin: they decode and validate the request, call the license
// engine and render either the v1 response contract or an RFC 7807 problem.
//
// # Routes
//
//	POST /api/public/validate              entitlement snapshot
//	POST /api/public/info                  snapshot including plan features
//	POST /api/public/heartbeat             liveness of a machine
//	POST /api/public/consume-token         spend tokens
//	POST /api/plugins/activate             entitle a license to a plugin
//	GET  /api/plugins/status/{key}/{id}    plugin entitlement status
//	     /api/admin/licenses/...           generate, trial, list, revoke, history
//	GET  /api/health[/live|/ready]         health checks
//	GET  /api/version                      build information
//
// Admin routes sit behind the admission guard and the admin key check; the
// router in internal/app wires those middlewares.
package http

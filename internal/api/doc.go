// Package api implements the HTTP REST API and WebSocket server for the
// thingbridge gateway.
//
// This package provides:
//   - Read endpoints for thing status, link state history and the audit trail
//   - Operator actions: publish, subscribe and unsubscribe on behalf of a
//     thing, and connect or disconnect its device link
//   - A WebSocket hub relaying link state changes to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
// All routes live under /api/v1:
//
//	GET  /health
//	GET  /audit
//	GET  /ws
//	GET  /things/
//	GET  /things/{id}
//	GET  /things/{id}/history
//	POST /things/{id}/publish
//	POST /things/{id}/subscribe
//	POST /things/{id}/unsubscribe
//	POST /things/{id}/connect
//	POST /things/{id}/disconnect
//
// # Graceful Degradation
//
// Only the thing manager is required. History, audit and the WebSocket
// relay are enabled when their dependencies are supplied; endpoints whose
// dependency is missing answer 503.
package api

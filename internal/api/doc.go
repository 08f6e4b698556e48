// Package api implements the companion's small HTTP surface.
//
// Routes:
//
//	GET    /healthz                   component health, 503 if any fails
//	GET    /metrics                   Prometheus exposition
//	GET    /api/system                runtime and connection snapshot
//	GET    /api/global-connection     shared hub connection status
//	POST   /api/global-connection     mint a token from the caller's credentials
//	DELETE /api/global-connection     drop the shared connection
//	GET    /api/irrigation-valves     valve detail views
//	POST   /api/irrigation-valves     save one valve's parameters
//	GET    /api/irrigation-features   irrigation feature switches
//	POST   /api/irrigation-features   store the feature switches
//
// POST and DELETE on /api/global-connection are not routed in supervised
// mode. Authentication failures answer 401 with the hub URL:
//
//	{"error": "the hub rejected the credentials", "code": "unauthorised", "url": "http://homeassistant.local:8123"}
//
// Validation failures answer 400 and name the rejected field.
package api

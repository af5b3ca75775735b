// Package api serves Ada's status and control HTTP API.
//
// Routes, all under /api/v1:
//
//	GET  /health      liveness and version
//	GET  /fleet       connected devices, sequence numbers, stale clients
//	GET  /schedule    power state, today's window and engine status
//	GET  /processes   supervised helper processes
//	POST /control     {"path": "/color/255,0,0"} queued like an MQTT message
//	GET  /events      persisted event log
//	GET  /ws          WebSocket stream of power.state_changed and
//	                  fleet.session_changed events
//
// When security.jwt.secret is set, /control, /events and /ws require an
// HS256 bearer token; /ws also accepts it as ?token=.
//
// The hub retains the latest event per channel and replays it to clients as
// they subscribe. Clients can also send control frames over the socket:
//
//	{"type": "control", "id": "1", "path": "/rain/on"}
package api

// Package ws implements the session transport for tubedrift-server.
//
// Each WebSocket connection at /ws/session?session=<id> belongs to one
// session. A connection without a session parameter gets a fresh id.
//
// Inbound frames are either a plain query string or a JSON object:
//
//	{"query": "golang", "kind": "query|channel|tag", "limit": 10}
//
// Every outbound frame is an envelope:
//
//	{"event": "session|result|history|error", "data": { ... }}
//
// "result" and "history" data carry {records, words}. The hub sends the
// session id and current history on connect, a "result" per answered query
// and a "history" whenever the poller sees a session's results change. The
// session is polled while at least one of its connections is open.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws

// Package realtime multiplexes websocket connections per user and pushes
// sync payloads to them.
//
// A Registry maps each user to the set of live sockets authenticated as that
// user. A Dispatcher runs one Session per socket, interpreting inbound
// messages in arrival order:
//
//	{"type":"auth","userId":"u1"}   register the socket under u1
//	{"type":"sync_request"}         reply with {"type":"SYNC_DATA","payload":...}
//
// Malformed or unknown messages are logged and dropped; the socket stays open.
// Dispatcher.Push fans a payload out to every socket of a user, on this
// instance and, through a Bridge, on every other instance.
package realtime

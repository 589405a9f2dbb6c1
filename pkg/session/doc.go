// Package session maintains the persistent websocket session to the portal.
//
// A Session dials the portal URI, delivers every inbound text frame that
// parses as a JSON object to its event handler, and redials with a
// bounded backoff whenever the connection is lost. Frames that are not
// valid UTF-8 or not a JSON object are dropped here and never reach the
// protocol layer.
//
// Events are queued by the read loop and delivered to the handler by a
// separate goroutine in order, so a slow handler never stalls the socket
// read. The handler must not call Open or Close.
//
// The session sends no transport-level pings. Liveness is the protocol
// client's job.
package session

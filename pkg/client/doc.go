// Package client implements the portal protocol client.
//
// A Client couples the link manager and the websocket session: it opens
// the session when the link comes up, authenticates every new connection,
// answers pings, keeps a heartbeat running while authorised, and hands
// every other message to registered handlers in registration order.
//
// # Recovery
//
// Consecutive session failures are counted. When FailureLimit failures
// arrive without an Opened in between, the client tears down the session
// and restarts the link in the background. Only one recovery runs at a
// time.
package client

// Package link manages the wireless association of the device.
//
// A Manager drives a Radio through association attempts, retries failed
// attempts a bounded number of times and reports the outcome to
// subscribers as Connected and Disconnected events. After a Disconnected
// event the manager starts a fresh round of attempts on its own, so the
// link heals without caller involvement.
//
// # State Machine
//
//	IDLE --associate--> ASSOCIATING --assigned--> CONNECTED
//	                        |   ^                     |
//	                      fail  +-----associate-------+
//	                        v   |
//	                       FAILED
//
// Any state returns to IDLE on Stop.
//
// # Events
//
// Subscribers are invoked from the manager's supervisor goroutine, one at a
// time, in subscription order. A callback must return quickly; long work
// belongs in a goroutine of its own. Callbacks may unsubscribe themselves
// but must not call Stop.
package link

// Package protocol defines the portal message set and its JSON wire form.
//
// Every frame is one JSON object. Commands carry a "command" field naming
// the message plus the fields of that message:
//
//	{"command":"authenticate","secret_key":"..."}
//	{"command":"log_access","card_id":42}
//
// The authorisation reply is the one exception: it has no command field
// and is recognised by the presence of "authorised".
//
// Decode never fails. Documents that cannot be mapped onto a message
// decode to Invalid, which carries the reason.
package protocol

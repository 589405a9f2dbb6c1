package protocol

import "net/netip"

// Message is one portal message. The set of implementations is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Authenticate opens the conversation with the device secret.
type Authenticate struct {
	SecretKey string
}

// Authorized is the portal's answer to Authenticate.
type Authorized struct {
	Authorised bool
}

// IPAddress reports the device's address to the portal.
type IPAddress struct {
	Addr netip.Addr
}

// Ping is the application heartbeat.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Reboot asks the device to restart.
type Reboot struct{}

// UpdateLockout sets or clears the device lockout.
type UpdateLockout struct {
	LockedOut bool
}

// Bump releases the lock briefly.
type Bump struct{}

// Sync replaces the authorised card list when Hash differs from the
// stored one. Hash is 32 hex characters; Tags are decimal card numbers.
type Sync struct {
	Hash string
	Tags []string
}

// Unlock releases the lock.
type Unlock struct{}

// Lock engages the lock.
type Lock struct{}

// InterlockSessionStart requests a metered session for a card.
type InterlockSessionStart struct {
	CardID uint32
}

// InterlockSessionUpdate reports session consumption.
type InterlockSessionUpdate struct {
	SessionID string
	KWh       float64
}

// InterlockSessionEnd closes a metered session.
type InterlockSessionEnd struct {
	SessionID string
	KWh       float64
	CardID    uint32
}

// InterlockOff switches the interlock output off.
type InterlockOff struct{}

// InterlockSessionRejected refuses a session request.
type InterlockSessionRejected struct{}

// Debit charges a card on a vending device.
type Debit struct {
	CardID uint32
	Amount float64
}

// AccessDenied logs a swipe by an unknown card.
type AccessDenied struct {
	CardID uint32
}

// AccessLockedOut logs a swipe while the device is locked out.
type AccessLockedOut struct {
	CardID uint32
}

// AccessGranted logs a successful swipe.
type AccessGranted struct {
	CardID uint32
}

// Invalid is the result of decoding a document that maps onto no message.
type Invalid struct {
	// Command is the command string, if one was present.
	Command string

	// Err explains the failure. It wraps ErrInvalidMessage or
	// ErrNotImplemented.
	Err error
}

func (Authenticate) Kind() Kind             { return KindAuthenticate }
func (Authorized) Kind() Kind               { return KindAuthorized }
func (IPAddress) Kind() Kind                { return KindIPAddress }
func (Ping) Kind() Kind                     { return KindPing }
func (Pong) Kind() Kind                     { return KindPong }
func (Reboot) Kind() Kind                   { return KindReboot }
func (UpdateLockout) Kind() Kind            { return KindUpdateLockout }
func (Bump) Kind() Kind                     { return KindBump }
func (Sync) Kind() Kind                     { return KindSync }
func (Unlock) Kind() Kind                   { return KindUnlock }
func (Lock) Kind() Kind                     { return KindLock }
func (InterlockSessionStart) Kind() Kind    { return KindInterlockSessionStart }
func (InterlockSessionUpdate) Kind() Kind   { return KindInterlockSessionUpdate }
func (InterlockSessionEnd) Kind() Kind      { return KindInterlockSessionEnd }
func (InterlockOff) Kind() Kind             { return KindInterlockOff }
func (InterlockSessionRejected) Kind() Kind { return KindInterlockSessionRejected }
func (Debit) Kind() Kind                    { return KindDebit }
func (AccessDenied) Kind() Kind             { return KindAccessDenied }
func (AccessLockedOut) Kind() Kind          { return KindAccessLockedOut }
func (AccessGranted) Kind() Kind            { return KindAccessGranted }
func (Invalid) Kind() Kind                  { return KindInvalid }

func (Authenticate) isMessage()             {}
func (Authorized) isMessage()               {}
func (IPAddress) isMessage()                {}
func (Ping) isMessage()                     {}
func (Pong) isMessage()                     {}
func (Reboot) isMessage()                   {}
func (UpdateLockout) isMessage()            {}
func (Bump) isMessage()                     {}
func (Sync) isMessage()                     {}
func (Unlock) isMessage()                   {}
func (Lock) isMessage()                     {}
func (InterlockSessionStart) isMessage()    {}
func (InterlockSessionUpdate) isMessage()   {}
func (InterlockSessionEnd) isMessage()      {}
func (InterlockOff) isMessage()             {}
func (InterlockSessionRejected) isMessage() {}
func (Debit) isMessage()                    {}
func (AccessDenied) isMessage()             {}
func (AccessLockedOut) isMessage()          {}
func (AccessGranted) isMessage()            {}
func (Invalid) isMessage()                  {}

// Error implements error so an Invalid can be returned or wrapped.
func (m Invalid) Error() string {
	if m.Err == nil {
		return "protocol: invalid message"
	}
	if m.Command == "" {
		return m.Err.Error()
	}
	return m.Command + ": " + m.Err.Error()
}

// Unwrap returns the decode error.
func (m Invalid) Unwrap() error {
	return m.Err
}

package protocol

// Kind identifies a message variant.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAuthenticate
	KindAuthorized
	KindIPAddress
	KindPing
	KindPong
	KindReboot
	KindUpdateLockout
	KindBump
	KindSync
	KindUnlock
	KindLock
	KindInterlockSessionStart
	KindInterlockSessionUpdate
	KindInterlockSessionEnd
	KindInterlockOff
	KindInterlockSessionRejected
	KindDebit
	KindAccessDenied
	KindAccessLockedOut
	KindAccessGranted
)

var kindInfo = map[Kind]struct {
	name    string
	command string
}{
	KindAuthenticate:             {"AUTHENTICATE", "authenticate"},
	KindAuthorized:               {"AUTHORIZED", "authorised"},
	KindIPAddress:                {"IP_ADDRESS", "ip_address"},
	KindPing:                     {"PING", "ping"},
	KindPong:                     {"PONG", "pong"},
	KindReboot:                   {"REBOOT", "reboot"},
	KindUpdateLockout:            {"UPDATE_LOCKOUT", "update_device_locked_out"},
	KindBump:                     {"BUMP", "bump"},
	KindSync:                     {"SYNC", "sync"},
	KindUnlock:                   {"UNLOCK", "unlock"},
	KindLock:                     {"LOCK", "lock"},
	KindInterlockSessionStart:    {"INTERLOCK_SESSION_START", "interlock_session_start"},
	KindInterlockSessionUpdate:   {"INTERLOCK_SESSION_UPDATE", "interlock_session_update"},
	KindInterlockSessionEnd:      {"INTERLOCK_SESSION_END", "interlock_session_end"},
	KindInterlockOff:             {"INTERLOCK_OFF", "interlock_off"},
	KindInterlockSessionRejected: {"INTERLOCK_SESSION_REJECTED", "interlock_session_rejected"},
	KindDebit:                    {"DEBIT", "debit"},
	KindAccessDenied:             {"ACCESS_DENIED", "log_access_denied"},
	KindAccessLockedOut:          {"ACCESS_LOCKED_OUT", "log_access_locked_out"},
	KindAccessGranted:            {"ACCESS_GRANTED", "log_access"},
}

var commandKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindInfo))
	for k, info := range kindInfo {
		if k == KindAuthorized {
			continue
		}
		m[info.command] = k
	}
	return m
}()

// String returns the kind name.
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	if k == KindInvalid {
		return "INVALID"
	}
	return "UNKNOWN"
}

// Command returns the wire command string, or "" for KindInvalid.
// KindAuthorized returns "authorised", the name of its marker field.
func (k Kind) Command() string {
	return kindInfo[k].command
}

// ParseCommand maps a wire command string to its kind. "authorised" is
// not a command and does not parse.
func ParseCommand(s string) (Kind, bool) {
	k, ok := commandKinds[s]
	return k, ok
}

// Implemented reports whether the kind has a wire mapping. Interlock and
// vending messages are defined but not implemented.
func (k Kind) Implemented() bool {
	switch k {
	case KindInterlockSessionStart, KindInterlockSessionUpdate, KindInterlockSessionEnd,
		KindInterlockOff, KindInterlockSessionRejected, KindDebit, KindInvalid:
		return false
	}
	_, ok := kindInfo[k]
	return ok
}

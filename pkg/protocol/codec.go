package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
)

// Codec errors.
var (
	// ErrInvalidMessage marks a document that maps onto no message, or a
	// message that cannot be encoded.
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrNotImplemented marks a defined message kind with no wire mapping.
	ErrNotImplemented = errors.New("protocol: message not implemented")
)

type wireBare struct {
	Command string `json:"command"`
}

type wireAuthenticate struct {
	Command   string `json:"command"`
	SecretKey string `json:"secret_key"`
}

type wireAuthorised struct {
	Authorised bool `json:"authorised"`
}

type wireIPAddress struct {
	Command   string `json:"command"`
	IPAddress string `json:"ip_address"`
}

type wireLockout struct {
	Command   string `json:"command"`
	LockedOut bool   `json:"locked_out"`
}

type wireSync struct {
	Command string   `json:"command"`
	Hash    string   `json:"hash"`
	Tags    []string `json:"tags"`
}

type wireCard struct {
	Command string `json:"command"`
	CardID  uint32 `json:"card_id"`
}

// Encode serializes msg to its wire document. Interlock and vending
// messages return ErrNotImplemented; nothing is emitted for them.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	cmd := msg.Kind().Command()

	var v any
	switch m := msg.(type) {
	case Authenticate:
		v = wireAuthenticate{Command: cmd, SecretKey: m.SecretKey}
	case Authorized:
		v = wireAuthorised{Authorised: m.Authorised}
	case IPAddress:
		if !m.Addr.Is4() {
			return nil, fmt.Errorf("%w: ip_address %v is not IPv4", ErrInvalidMessage, m.Addr)
		}
		v = wireIPAddress{Command: cmd, IPAddress: m.Addr.String()}
	case Ping, Pong, Reboot, Bump, Unlock, Lock:
		v = wireBare{Command: cmd}
	case UpdateLockout:
		v = wireLockout{Command: cmd, LockedOut: m.LockedOut}
	case Sync:
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		v = wireSync{Command: cmd, Hash: m.Hash, Tags: tags}
	case AccessDenied:
		v = wireCard{Command: cmd, CardID: m.CardID}
	case AccessLockedOut:
		v = wireCard{Command: cmd, CardID: m.CardID}
	case AccessGranted:
		v = wireCard{Command: cmd, CardID: m.CardID}
	case InterlockSessionStart, InterlockSessionUpdate, InterlockSessionEnd,
		InterlockOff, InterlockSessionRejected, Debit:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, cmd)
	case Invalid:
		return nil, fmt.Errorf("%w: cannot encode %v", ErrInvalidMessage, m)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, msg)
	}
	return json.Marshal(v)
}

// DecodeBytes parses data and decodes it. Data that is not a JSON object
// decodes to Invalid.
func DecodeBytes(data []byte) Message {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return Invalid{Err: fmt.Errorf("%w: not a JSON object", ErrInvalidMessage)}
	}
	return Decode(doc)
}

// Decode maps a parsed document onto a message. A document with an
// "authorised" field is an Authorized reply; anything else is looked up by
// its "command" field.
func Decode(doc map[string]json.RawMessage) Message {
	if raw, ok := doc["authorised"]; ok {
		b, err := decodeFlag(raw)
		if err != nil {
			return invalid("authorised", "authorised: %v", err)
		}
		return Authorized{Authorised: b}
	}

	raw, ok := doc["command"]
	if !ok {
		return invalid("", "missing command")
	}
	var cmd string
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return invalid("", "command is not a string")
	}
	kind, ok := ParseCommand(cmd)
	if !ok {
		return invalid(cmd, "unknown command")
	}

	switch kind {
	case KindPing:
		return Ping{}
	case KindPong:
		return Pong{}
	case KindReboot:
		return Reboot{}
	case KindBump:
		return Bump{}
	case KindUnlock:
		return Unlock{}
	case KindLock:
		return Lock{}

	case KindAuthenticate:
		var key string
		if err := field(doc, "secret_key", &key); err != nil {
			return invalid(cmd, "%v", err)
		}
		return Authenticate{SecretKey: key}

	case KindIPAddress:
		var s string
		if err := field(doc, "ip_address", &s); err != nil {
			return invalid(cmd, "%v", err)
		}
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return invalid(cmd, "ip_address %q is not a dotted quad", s)
		}
		return IPAddress{Addr: addr}

	case KindUpdateLockout:
		raw, ok := doc["locked_out"]
		if !ok {
			return invalid(cmd, "missing locked_out")
		}
		b, err := decodeFlag(raw)
		if err != nil {
			return invalid(cmd, "locked_out: %v", err)
		}
		return UpdateLockout{LockedOut: b}

	case KindSync:
		return decodeSync(cmd, doc)

	case KindAccessDenied, KindAccessLockedOut, KindAccessGranted:
		var id uint32
		if err := field(doc, "card_id", &id); err != nil {
			return invalid(cmd, "%v", err)
		}
		switch kind {
		case KindAccessDenied:
			return AccessDenied{CardID: id}
		case KindAccessLockedOut:
			return AccessLockedOut{CardID: id}
		default:
			return AccessGranted{CardID: id}
		}

	default:
		return Invalid{Command: cmd, Err: ErrNotImplemented}
	}
}

func decodeSync(cmd string, doc map[string]json.RawMessage) Message {
	var m Sync
	if raw, ok := doc["hash"]; ok {
		if err := json.Unmarshal(raw, &m.Hash); err != nil {
			return invalid(cmd, "hash is not a string")
		}
	}

	raw, ok := doc["tags"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return m
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return invalid(cmd, "tags is not an array")
	}
	m.Tags = make([]string, 0, len(items))
	for i, item := range items {
		tag, err := decodeTag(item)
		if err != nil {
			return invalid(cmd, "tags[%d]: %v", i, err)
		}
		m.Tags = append(m.Tags, tag)
	}
	return m
}

// decodeTag accepts a card number given as a string or a JSON number.
func decodeTag(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n uint32
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.New("not a card number")
	}
	return strconv.FormatUint(uint64(n), 10), nil
}

// decodeFlag accepts a JSON bool or a number, where any nonzero number is
// true.
func decodeFlag(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return false, errors.New("not a bool or number")
	}
	return n != 0, nil
}

func field(doc map[string]json.RawMessage, name string, dst any) error {
	raw, ok := doc[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("bad %s: %v", name, err)
	}
	return nil
}

func invalid(cmd, format string, args ...any) Invalid {
	return Invalid{Command: cmd, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidMessage}, args...)...)}
}

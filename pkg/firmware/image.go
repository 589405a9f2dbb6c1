// Package firmware defines the accessnode firmware image format.
//
// An image is a fixed 80-byte header followed by the payload:
//
//	offset  size  field
//	0       4     magic "ANFW"
//	4       1     format version (1)
//	5       3     reserved, zero
//	8       32    version string, NUL padded
//	40      8     payload length, big-endian
//	48      32    BLAKE2b-256 digest of the payload
//
// The version descriptor sits inside the header, so the version of an
// incoming image is known as soon as the first HeaderSize bytes arrive.
package firmware

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	// HeaderSize is the size of the image header in bytes.
	HeaderSize = 80

	// MaxVersionLen is the longest version string the header can carry.
	MaxVersionLen = 32

	// FormatVersion is the header layout version written by Build.
	FormatVersion = 1
)

// Magic identifies an accessnode image.
var Magic = [4]byte{'A', 'N', 'F', 'W'}

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are given.
	ErrShortHeader = errors.New("firmware: short header")

	// ErrBadMagic is returned when the data is not an accessnode image.
	ErrBadMagic = errors.New("firmware: bad magic")

	// ErrUnsupportedFormat is returned for unknown header layouts.
	ErrUnsupportedFormat = errors.New("firmware: unsupported format version")

	// ErrBadVersion is returned for empty or oversized version strings.
	ErrBadVersion = errors.New("firmware: bad version string")
)

// Header is the decoded image header.
type Header struct {
	Version     string
	PayloadSize uint64
	Digest      [blake2b.Size256]byte
}

// ImageSize returns the total image size including the header.
func (h Header) ImageSize() uint64 {
	return HeaderSize + h.PayloadSize
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	if h.Version == "" || len(h.Version) > MaxVersionLen || bytes.IndexByte([]byte(h.Version), 0) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, h.Version)
	}
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	buf[4] = FormatVersion
	copy(buf[8:40], h.Version)
	binary.BigEndian.PutUint64(buf[40:48], h.PayloadSize)
	copy(buf[48:80], h.Digest[:])
	return buf, nil
}

// ParseHeader decodes the header at the start of data. Only the first
// HeaderSize bytes are examined.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: have %d bytes, need %d", ErrShortHeader, len(data), HeaderSize)
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return Header{}, ErrBadMagic
	}
	if data[4] != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedFormat, data[4])
	}

	raw := data[8:40]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if len(raw) == 0 {
		return Header{}, fmt.Errorf("%w: empty", ErrBadVersion)
	}

	h := Header{
		Version:     string(raw),
		PayloadSize: binary.BigEndian.Uint64(data[40:48]),
	}
	copy(h.Digest[:], data[48:80])
	return h, nil
}

// Build assembles a complete image for payload.
func Build(version string, payload []byte) ([]byte, error) {
	h := Header{
		Version:     version,
		PayloadSize: uint64(len(payload)),
		Digest:      blake2b.Sum256(payload),
	}
	hdr, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// VerificationError reports an image whose payload does not match its header.
type VerificationError struct {
	Message string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("firmware verification failed: %s", e.Message)
}

// Verifier checks a streamed image against its header. Feed it every byte
// of the image, header included, then call Verify.
type Verifier struct {
	head    []byte
	header  *Header
	digest  hash.Hash
	payload uint64
}

// NewVerifier returns an empty Verifier.
func NewVerifier() *Verifier {
	d, _ := blake2b.New256(nil) // nil key never fails
	return &Verifier{digest: d}
}

// Write consumes image bytes. It fails once the header is known to be
// invalid or the payload exceeds the declared size.
func (v *Verifier) Write(p []byte) (int, error) {
	n := len(p)
	if v.header == nil {
		need := HeaderSize - len(v.head)
		if len(p) < need {
			v.head = append(v.head, p...)
			return n, nil
		}
		v.head = append(v.head, p[:need]...)
		p = p[need:]
		h, err := ParseHeader(v.head)
		if err != nil {
			return 0, err
		}
		v.header = &h
	}

	v.payload += uint64(len(p))
	if v.payload > v.header.PayloadSize {
		return 0, &VerificationError{Message: fmt.Sprintf("payload exceeds declared %d bytes", v.header.PayloadSize)}
	}
	v.digest.Write(p)
	return n, nil
}

// Header returns the parsed header, or nil if it has not arrived yet.
func (v *Verifier) Header() *Header {
	return v.header
}

// Verify checks the payload length and digest.
func (v *Verifier) Verify() error {
	if v.header == nil {
		return &VerificationError{Message: "image shorter than header"}
	}
	if v.payload != v.header.PayloadSize {
		return &VerificationError{Message: fmt.Sprintf("payload is %d bytes, header declares %d", v.payload, v.header.PayloadSize)}
	}
	sum := v.digest.Sum(nil)
	if subtle.ConstantTimeCompare(sum, v.header.Digest[:]) != 1 {
		return &VerificationError{Message: "payload digest mismatch"}
	}
	return nil
}

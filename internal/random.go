package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// SessionID labels one verification session in logs and audit events.
type SessionID [12]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewToken returns a random positive 31-bit value. The range fits every
// keep-alive and teleport id width on the wire.
func NewToken() (int32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(b[:]) & 0x7FFFFFFF)
	if v == 0 {
		v = 1
	}
	return v, nil
}

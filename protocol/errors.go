package protocol

import "errors"

var (
	// ErrCorruptPacket is returned when a frame body is outside the declared
	// length bounds, ends before every field is read, or has trailing bytes.
	ErrCorruptPacket = errors.New("corrupt packet")
	// ErrUnknownPacket is returned when no registration covers the packet id
	// for the given direction and version.
	ErrUnknownPacket = errors.New("unknown packet id")
	// ErrInboundOnly is returned when encoding a packet that only ever
	// travels from client to server. It signals a caller bug.
	ErrInboundOnly = errors.New("packet is inbound-only and cannot be encoded")
	// ErrUnsupportedVersion is returned for protocol numbers outside the
	// supported range.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrFieldTooLarge is returned by encoders when a field exceeds its
	// wire cap.
	ErrFieldTooLarge = errors.New("field exceeds wire limit")
)

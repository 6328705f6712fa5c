package protocol

// Direction identifies which side sends a packet.
type Direction uint8

const (
	// Serverbound packets travel from the client to the proxy.
	Serverbound Direction = iota
	// Clientbound packets travel from the proxy to the client.
	Clientbound
)

func (d Direction) String() string {
	if d == Clientbound {
		return "clientbound"
	}
	return "serverbound"
}

// Kind names a packet variant independent of its per-version numeric id.
type Kind uint8

const (
	KindKeepAlive Kind = iota + 1
	KindJoinGame
	KindClientSettings
	KindPosition
	KindPositionLook
	KindServerPositionLook
	KindGroundState
	KindPluginMessage
	KindTeleportConfirm
	KindDisconnect
)

var kindNames = map[Kind]string{
	KindKeepAlive:          "keep_alive",
	KindJoinGame:           "join_game",
	KindClientSettings:     "client_settings",
	KindPosition:           "position",
	KindPositionLook:       "position_look",
	KindServerPositionLook: "server_position_look",
	KindGroundState:        "ground_state",
	KindPluginMessage:      "plugin_message",
	KindTeleportConfirm:    "teleport_confirm",
	KindDisconnect:         "disconnect",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Packet is one protocol message variant. Lengths are the inclusive bounds
// of the encoded body, excluding the packet id.
type Packet interface {
	Kind() Kind
	MinLength(v Version) int
	MaxLength(v Version) int

	decode(r *Reader, v Version) error
	encode(w *Writer, v Version) error
}

func newPacket(k Kind) Packet {
	switch k {
	case KindKeepAlive:
		return &KeepAlive{}
	case KindJoinGame:
		return &JoinGame{}
	case KindClientSettings:
		return &ClientSettings{}
	case KindPosition:
		return &Position{}
	case KindPositionLook:
		return &PositionLook{}
	case KindServerPositionLook:
		return &ServerPositionLook{}
	case KindGroundState:
		return &GroundState{}
	case KindPluginMessage:
		return &PluginMessage{}
	case KindTeleportConfirm:
		return &TeleportConfirm{}
	case KindDisconnect:
		return &Disconnect{}
	default:
		return nil
	}
}

// inboundOnly is embedded by variants that the proxy never sends.
type inboundOnly struct{}

func (inboundOnly) encode(*Writer, Version) error { return ErrInboundOnly }

func (inboundOnly) isInbound() {}

// IsInboundOnly reports whether p can never be encoded by the proxy.
func IsInboundOnly(p Packet) bool {
	_, ok := p.(interface{ isInbound() })
	return ok
}

func stringBounds(maxChars int) (int, int) {
	maxBytes := maxChars * maxUTF8Width
	return 1, VarIntSize(int32(maxBytes)) + maxBytes
}

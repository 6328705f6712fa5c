package clientsim

import (
	"fmt"

	"github.com/MrEthical07/goFallback/internal/fallback"
	"github.com/MrEthical07/goFallback/protocol"
)

// Behavior selects how a simulated client answers the verification world.
type Behavior uint8

const (
	// Honest behaves like a vanilla client: it answers the keep-alive,
	// reports settings, confirms the probe and falls.
	Honest Behavior = iota
	// Hovering echoes the probe and then reports a constant altitude.
	Hovering
	// Impatient starts moving before it reports its settings.
	Impatient
	// Mute never answers the keep-alive.
	Mute
	// Idle sends nothing after joining.
	Idle
)

func (b Behavior) String() string {
	switch b {
	case Honest:
		return "honest"
	case Hovering:
		return "hovering"
	case Impatient:
		return "impatient"
	case Mute:
		return "mute"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// ParseBehavior maps a behavior name back to its value.
func ParseBehavior(s string) (Behavior, error) {
	for _, b := range []Behavior{Honest, Hovering, Impatient, Mute, Idle} {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown client behavior %q", s)
}

// Client reacts to clientbound frames with the serverbound frames a client
// of the configured behavior would send.
type Client struct {
	Version  protocol.Version
	Behavior Behavior
	Model    fallback.FallModel
	// Samples is the number of movement updates sent after the probe echo.
	Samples int

	disconnect string
}

// New returns a client that falls for the given number of ticks.
func New(v protocol.Version, b Behavior, samples int) *Client {
	return &Client{
		Version:  v,
		Behavior: b,
		Model:    fallback.FallModel{Gravity: fallback.DefaultGravity, Drag: fallback.DefaultDrag},
		Samples:  samples,
	}
}

// Disconnected returns the disconnect reason, if the server sent one.
func (c *Client) Disconnected() (string, bool) {
	return c.disconnect, c.disconnect != ""
}

// Receive decodes one clientbound frame and returns the replies.
func (c *Client) Receive(frame []byte) ([][]byte, error) {
	p, err := protocol.Decode(protocol.Clientbound, frame, c.Version)
	if err != nil {
		return nil, err
	}
	if c.Behavior == Idle {
		return nil, nil
	}

	switch pkt := p.(type) {
	case *protocol.JoinGame:
		return c.onJoin()
	case *protocol.KeepAlive:
		if c.Behavior == Mute {
			return nil, nil
		}
		f, err := KeepAlive(c.Version, pkt.ID)
		return wrap(f, err)
	case *protocol.ServerPositionLook:
		return c.onProbe(pkt)
	case *protocol.Disconnect:
		c.disconnect = pkt.Reason
	}
	return nil, nil
}

func (c *Client) onJoin() ([][]byte, error) {
	if c.Behavior == Impatient {
		f, err := Position(c.Version, 0, 64, 0, false)
		return wrap(f, err)
	}
	settings, err := ClientSettings(c.Version, "en_us")
	if err != nil {
		return nil, err
	}
	brand, err := Brand(c.Version, "vanilla")
	if err != nil {
		return nil, err
	}
	return [][]byte{settings, brand}, nil
}

func (c *Client) onProbe(p *protocol.ServerPositionLook) ([][]byte, error) {
	var out [][]byte
	if c.Version.AtLeast(protocol.V1_9) {
		f, err := TeleportConfirm(c.Version, p.TeleportID)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	feet := p.Y
	if c.Version.Less(protocol.V1_8) {
		feet -= eyeHeight
	}
	echo, err := PositionLook(c.Version, p.X, feet, p.Z, p.Yaw, p.Pitch, false)
	if err != nil {
		return nil, err
	}
	out = append(out, echo)

	path := fallback.FallPath(feet, c.Samples, c.Model)
	for _, y := range path {
		if c.Behavior == Hovering {
			y = feet
		}
		f, err := Position(c.Version, p.X, y, p.Z, false)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func wrap(f []byte, err error) ([][]byte, error) {
	if err != nil {
		return nil, err
	}
	return [][]byte{f}, nil
}

package clientsim

import (
	"fmt"

	"github.com/MrEthical07/goFallback/protocol"
)

const (
	localeChars  = 16
	channelChars = 20
	eyeHeight    = 1.62
)

func frame(k protocol.Kind, v protocol.Version, body func(w *protocol.Writer) error) ([]byte, error) {
	id, ok := protocol.PacketID(protocol.Serverbound, k, v)
	if !ok {
		return nil, fmt.Errorf("%s is not sent by %s clients", k, v)
	}
	w := protocol.NewWriter()
	w.WriteVarInt(id)
	if err := body(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// KeepAlive builds a serverbound keep-alive response.
func KeepAlive(v protocol.Version, id int64) ([]byte, error) {
	return frame(protocol.KindKeepAlive, v, func(w *protocol.Writer) error {
		switch {
		case v.Less(protocol.V1_8):
			w.WriteInt32(int32(id))
		case v.Less(protocol.V1_12_2):
			w.WriteVarInt(int32(id))
		default:
			w.WriteInt64(id)
		}
		return nil
	})
}

// ClientSettings builds the settings packet a vanilla client sends on join.
func ClientSettings(v protocol.Version, locale string) ([]byte, error) {
	return frame(protocol.KindClientSettings, v, func(w *protocol.Writer) error {
		if err := w.WriteString(locale, localeChars); err != nil {
			return err
		}
		_ = w.WriteByte(2) // view distance
		if v.AtLeast(protocol.V1_9) {
			w.WriteVarInt(0)
		} else {
			_ = w.WriteByte(0)
		}
		w.WriteBool(true)
		if v.Less(protocol.V1_8) {
			_ = w.WriteByte(2)
			w.WriteBool(true)
			return nil
		}
		_ = w.WriteByte(0x7f)
		if v.AtLeast(protocol.V1_9) {
			w.WriteVarInt(1)
		}
		return nil
	})
}

// Brand builds the client brand plugin message.
func Brand(v protocol.Version, brand string) ([]byte, error) {
	channel := "minecraft:brand"
	if v.Less(protocol.V1_13) {
		channel = "MC|Brand"
	}
	data := protocol.NewWriter()
	if err := data.WriteString(brand, 64); err != nil {
		return nil, err
	}
	return frame(protocol.KindPluginMessage, v, func(w *protocol.Writer) error {
		if err := w.WriteString(channel, channelChars); err != nil {
			return err
		}
		if v.Less(protocol.V1_8) {
			w.WriteInt16(int16(data.Len()))
		}
		w.WriteBytes(data.Bytes())
		return nil
	})
}

// TeleportConfirm acknowledges a server teleport on 1.9 and newer.
func TeleportConfirm(v protocol.Version, id int32) ([]byte, error) {
	return frame(protocol.KindTeleportConfirm, v, func(w *protocol.Writer) error {
		w.WriteVarInt(id)
		return nil
	})
}

// Position builds a movement update. y is the feet position.
func Position(v protocol.Version, x, y, z float64, onGround bool) ([]byte, error) {
	return frame(protocol.KindPosition, v, func(w *protocol.Writer) error {
		writeCoordinates(w, v, x, y, z)
		w.WriteBool(onGround)
		return nil
	})
}

// PositionLook builds a movement update with rotation.
func PositionLook(v protocol.Version, x, y, z float64, yaw, pitch float32, onGround bool) ([]byte, error) {
	return frame(protocol.KindPositionLook, v, func(w *protocol.Writer) error {
		writeCoordinates(w, v, x, y, z)
		w.WriteFloat(yaw)
		w.WriteFloat(pitch)
		w.WriteBool(onGround)
		return nil
	})
}

func writeCoordinates(w *protocol.Writer, v protocol.Version, x, y, z float64) {
	w.WriteDouble(x)
	w.WriteDouble(y)
	if v.Less(protocol.V1_8) {
		w.WriteDouble(y + eyeHeight)
	}
	w.WriteDouble(z)
}

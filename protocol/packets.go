package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	localeMaxChars     = 16
	levelTypeMaxChars  = 16
	legacyChannelChars = 20
	channelMaxChars    = 256
	pluginDataMaxBytes = 32767
	reasonMaxChars     = 262144
)

// KeepAlive carries the liveness token in both directions. Its width
// changes with the version: int32 before 1.8, VarInt until 1.12.1, int64
// afterwards.
type KeepAlive struct {
	ID int64
}

func (*KeepAlive) Kind() Kind { return KindKeepAlive }

func (*KeepAlive) MinLength(v Version) int {
	switch {
	case v.Less(V1_8):
		return 4
	case v.Less(V1_12_2):
		return 1
	default:
		return 8
	}
}

func (*KeepAlive) MaxLength(v Version) int {
	switch {
	case v.Less(V1_8):
		return 4
	case v.Less(V1_12_2):
		return maxVarIntBytes
	default:
		return 8
	}
}

func (p *KeepAlive) decode(r *Reader, v Version) error {
	switch {
	case v.Less(V1_8):
		id, err := r.ReadInt32()
		p.ID = int64(id)
		return err
	case v.Less(V1_12_2):
		id, err := r.ReadVarInt()
		p.ID = int64(id)
		return err
	default:
		id, err := r.ReadInt64()
		p.ID = id
		return err
	}
}

func (p *KeepAlive) encode(w *Writer, v Version) error {
	if v.Less(V1_12_2) && (p.ID < math.MinInt32 || p.ID > math.MaxInt32) {
		return fmt.Errorf("%w: keep-alive id %d does not fit 32 bits at %s", ErrFieldTooLarge, p.ID, v)
	}
	switch {
	case v.Less(V1_8):
		w.WriteInt32(int32(p.ID))
	case v.Less(V1_12_2):
		w.WriteVarInt(int32(p.ID))
	default:
		w.WriteInt64(p.ID)
	}
	return nil
}

// JoinGame moves the client into the play state inside the synthetic world.
type JoinGame struct {
	EntityID            int32
	GameMode            uint8
	Dimension           int32
	HashedSeed          int64
	Difficulty          uint8
	MaxPlayers          uint8
	LevelType           string
	ViewDistance        int32
	ReducedDebugInfo    bool
	EnableRespawnScreen bool
}

func (*JoinGame) Kind() Kind { return KindJoinGame }

func (*JoinGame) fixedLength(v Version) int {
	n := 4 + 1 // entity id, game mode
	if v.Less(V1_9_1) {
		n++
	} else {
		n += 4
	}
	if v.AtLeast(V1_15) {
		n += 8
	}
	if v.Less(V1_14) {
		n++
	}
	n++ // max players
	if v.AtLeast(V1_8) {
		n++
	}
	if v.AtLeast(V1_15) {
		n++
	}
	return n
}

func (p *JoinGame) MinLength(v Version) int {
	minStr, _ := stringBounds(levelTypeMaxChars)
	n := p.fixedLength(v) + minStr
	if v.AtLeast(V1_14) {
		n++
	}
	return n
}

func (p *JoinGame) MaxLength(v Version) int {
	_, maxStr := stringBounds(levelTypeMaxChars)
	n := p.fixedLength(v) + maxStr
	if v.AtLeast(V1_14) {
		n += maxVarIntBytes
	}
	return n
}

func (p *JoinGame) decode(r *Reader, v Version) error {
	var err error
	if p.EntityID, err = r.ReadInt32(); err != nil {
		return err
	}
	if p.GameMode, err = r.ReadByte(); err != nil {
		return err
	}
	if v.Less(V1_9_1) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		p.Dimension = int32(int8(b))
	} else if p.Dimension, err = r.ReadInt32(); err != nil {
		return err
	}
	if v.AtLeast(V1_15) {
		if p.HashedSeed, err = r.ReadInt64(); err != nil {
			return err
		}
	}
	if v.Less(V1_14) {
		if p.Difficulty, err = r.ReadByte(); err != nil {
			return err
		}
	}
	if p.MaxPlayers, err = r.ReadByte(); err != nil {
		return err
	}
	if p.LevelType, err = r.ReadString(levelTypeMaxChars); err != nil {
		return err
	}
	if v.AtLeast(V1_14) {
		if p.ViewDistance, err = r.ReadVarInt(); err != nil {
			return err
		}
	}
	if v.AtLeast(V1_8) {
		if p.ReducedDebugInfo, err = r.ReadBool(); err != nil {
			return err
		}
	}
	if v.AtLeast(V1_15) {
		if p.EnableRespawnScreen, err = r.ReadBool(); err != nil {
			return err
		}
	}
	return nil
}

func (p *JoinGame) encode(w *Writer, v Version) error {
	w.WriteInt32(p.EntityID)
	_ = w.WriteByte(p.GameMode)
	if v.Less(V1_9_1) {
		if p.Dimension < math.MinInt8 || p.Dimension > math.MaxInt8 {
			return fmt.Errorf("%w: dimension %d does not fit a byte at %s", ErrFieldTooLarge, p.Dimension, v)
		}
		_ = w.WriteByte(byte(int8(p.Dimension)))
	} else {
		w.WriteInt32(p.Dimension)
	}
	if v.AtLeast(V1_15) {
		w.WriteInt64(p.HashedSeed)
	}
	if v.Less(V1_14) {
		_ = w.WriteByte(p.Difficulty)
	}
	_ = w.WriteByte(p.MaxPlayers)
	if err := w.WriteString(p.LevelType, levelTypeMaxChars); err != nil {
		return err
	}
	if v.AtLeast(V1_14) {
		w.WriteVarInt(p.ViewDistance)
	}
	if v.AtLeast(V1_8) {
		w.WriteBool(p.ReducedDebugInfo)
	}
	if v.AtLeast(V1_15) {
		w.WriteBool(p.EnableRespawnScreen)
	}
	return nil
}

// ServerPositionLook teleports the client. Before 1.8 the trailing byte is
// an on-ground flag, afterwards a relative-coordinates bitmask; 1.9 appends
// the teleport id the client must confirm.
type ServerPositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      byte
	OnGround   bool
	TeleportID int32
}

func (*ServerPositionLook) Kind() Kind { return KindServerPositionLook }

func (*ServerPositionLook) MinLength(v Version) int {
	if v.AtLeast(V1_9) {
		return 34
	}
	return 33
}

func (*ServerPositionLook) MaxLength(v Version) int {
	if v.AtLeast(V1_9) {
		return 33 + maxVarIntBytes
	}
	return 33
}

func (p *ServerPositionLook) decode(r *Reader, v Version) error {
	var err error
	if p.X, err = r.ReadDouble(); err != nil {
		return err
	}
	if p.Y, err = r.ReadDouble(); err != nil {
		return err
	}
	if p.Z, err = r.ReadDouble(); err != nil {
		return err
	}
	if p.Yaw, err = r.ReadFloat(); err != nil {
		return err
	}
	if p.Pitch, err = r.ReadFloat(); err != nil {
		return err
	}
	if v.Less(V1_8) {
		if p.OnGround, err = r.ReadBool(); err != nil {
			return err
		}
	} else if p.Flags, err = r.ReadByte(); err != nil {
		return err
	}
	if v.AtLeast(V1_9) {
		if p.TeleportID, err = r.ReadVarInt(); err != nil {
			return err
		}
	}
	return nil
}

func (p *ServerPositionLook) encode(w *Writer, v Version) error {
	w.WriteDouble(p.X)
	w.WriteDouble(p.Y)
	w.WriteDouble(p.Z)
	w.WriteFloat(p.Yaw)
	w.WriteFloat(p.Pitch)
	if v.Less(V1_8) {
		w.WriteBool(p.OnGround)
	} else {
		_ = w.WriteByte(p.Flags)
	}
	if v.AtLeast(V1_9) {
		w.WriteVarInt(p.TeleportID)
	}
	return nil
}

// Disconnect closes the connection with a JSON chat component.
type Disconnect struct {
	Reason string
}

// NewDisconnect wraps plain text into a chat component.
func NewDisconnect(text string) *Disconnect {
	data, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return &Disconnect{Reason: `{"text":""}`}
	}
	return &Disconnect{Reason: string(data)}
}

func (*Disconnect) Kind() Kind { return KindDisconnect }

func (*Disconnect) MinLength(Version) int {
	minStr, _ := stringBounds(reasonMaxChars)
	return minStr
}

func (*Disconnect) MaxLength(Version) int {
	_, maxStr := stringBounds(reasonMaxChars)
	return maxStr
}

func (p *Disconnect) decode(r *Reader, _ Version) error {
	var err error
	p.Reason, err = r.ReadString(reasonMaxChars)
	return err
}

func (p *Disconnect) encode(w *Writer, _ Version) error {
	return w.WriteString(p.Reason, reasonMaxChars)
}

// ClientSettings is the first packet a vanilla client sends after joining.
type ClientSettings struct {
	inboundOnly

	Locale       string
	ViewDistance int8
	ChatMode     int32
	ChatColors   bool
	Difficulty   uint8
	ShowCape     bool
	SkinParts    uint8
	MainHand     int32
}

func (*ClientSettings) Kind() Kind { return KindClientSettings }

func (*ClientSettings) MinLength(v Version) int {
	minStr, _ := stringBounds(localeMaxChars)
	switch {
	case v.Less(V1_8):
		return minStr + 5
	case v.Less(V1_9):
		return minStr + 4
	default:
		return minStr + 5
	}
}

func (*ClientSettings) MaxLength(v Version) int {
	_, maxStr := stringBounds(localeMaxChars)
	switch {
	case v.Less(V1_8):
		return maxStr + 5
	case v.Less(V1_9):
		return maxStr + 4
	default:
		return maxStr + 1 + maxVarIntBytes + 1 + 1 + maxVarIntBytes
	}
}

func (p *ClientSettings) decode(r *Reader, v Version) error {
	var err error
	if p.Locale, err = r.ReadString(localeMaxChars); err != nil {
		return err
	}
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	p.ViewDistance = int8(b)

	if v.AtLeast(V1_9) {
		if p.ChatMode, err = r.ReadVarInt(); err != nil {
			return err
		}
	} else {
		mode, err := r.ReadByte()
		if err != nil {
			return err
		}
		p.ChatMode = int32(mode)
	}
	if p.ChatColors, err = r.ReadBool(); err != nil {
		return err
	}

	if v.Less(V1_8) {
		if p.Difficulty, err = r.ReadByte(); err != nil {
			return err
		}
		p.ShowCape, err = r.ReadBool()
		return err
	}

	if p.SkinParts, err = r.ReadByte(); err != nil {
		return err
	}
	if v.AtLeast(V1_9) {
		if p.MainHand, err = r.ReadVarInt(); err != nil {
			return err
		}
	}
	return nil
}

// Position is a movement update. Clients older than 1.8 send an extra
// stance double between Y and Z.
type Position struct {
	inboundOnly

	X, Y, Z  float64
	Stance   float64
	OnGround bool
}

func (*Position) Kind() Kind { return KindPosition }

func (*Position) MinLength(v Version) int {
	if v.Less(V1_8) {
		return 33
	}
	return 25
}

func (p *Position) MaxLength(v Version) int { return p.MinLength(v) }

func (p *Position) decode(r *Reader, v Version) error {
	var err error
	if p.X, p.Y, p.Stance, p.Z, err = readCoordinates(r, v); err != nil {
		return err
	}
	p.OnGround, err = r.ReadBool()
	return err
}

// PositionLook is a movement update with rotation.
type PositionLook struct {
	inboundOnly

	X, Y, Z    float64
	Stance     float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*PositionLook) Kind() Kind { return KindPositionLook }

func (*PositionLook) MinLength(v Version) int {
	if v.Less(V1_8) {
		return 41
	}
	return 33
}

func (p *PositionLook) MaxLength(v Version) int { return p.MinLength(v) }

func (p *PositionLook) decode(r *Reader, v Version) error {
	var err error
	if p.X, p.Y, p.Stance, p.Z, err = readCoordinates(r, v); err != nil {
		return err
	}
	if p.Yaw, err = r.ReadFloat(); err != nil {
		return err
	}
	if p.Pitch, err = r.ReadFloat(); err != nil {
		return err
	}
	p.OnGround, err = r.ReadBool()
	return err
}

func readCoordinates(r *Reader, v Version) (x, y, stance, z float64, err error) {
	if x, err = r.ReadDouble(); err != nil {
		return
	}
	if y, err = r.ReadDouble(); err != nil {
		return
	}
	if v.Less(V1_8) {
		if stance, err = r.ReadDouble(); err != nil {
			return
		}
	}
	z, err = r.ReadDouble()
	return
}

// GroundState reports only the on-ground flag.
type GroundState struct {
	inboundOnly

	OnGround bool
}

func (*GroundState) Kind() Kind            { return KindGroundState }
func (*GroundState) MinLength(Version) int { return 1 }
func (*GroundState) MaxLength(Version) int { return 1 }

func (p *GroundState) decode(r *Reader, _ Version) error {
	var err error
	p.OnGround, err = r.ReadBool()
	return err
}

// TeleportConfirm acknowledges a ServerPositionLook on 1.9 and newer.
type TeleportConfirm struct {
	inboundOnly

	TeleportID int32
}

func (*TeleportConfirm) Kind() Kind            { return KindTeleportConfirm }
func (*TeleportConfirm) MinLength(Version) int { return 1 }
func (*TeleportConfirm) MaxLength(Version) int { return maxVarIntBytes }

func (p *TeleportConfirm) decode(r *Reader, _ Version) error {
	var err error
	p.TeleportID, err = r.ReadVarInt()
	return err
}

// PluginMessage carries a custom channel payload. 1.7 prefixes the payload
// with an explicit int16 length.
type PluginMessage struct {
	inboundOnly

	Channel string
	Data    []byte
}

func (*PluginMessage) Kind() Kind { return KindPluginMessage }

func channelChars(v Version) int {
	if v.Less(V1_13) {
		return legacyChannelChars
	}
	return channelMaxChars
}

func (*PluginMessage) MinLength(v Version) int {
	if v.Less(V1_8) {
		return 3
	}
	return 1
}

func (*PluginMessage) MaxLength(v Version) int {
	_, maxStr := stringBounds(channelChars(v))
	if v.Less(V1_8) {
		return maxStr + 2 + pluginDataMaxBytes
	}
	return maxStr + pluginDataMaxBytes
}

func (p *PluginMessage) decode(r *Reader, v Version) error {
	var err error
	if p.Channel, err = r.ReadString(channelChars(v)); err != nil {
		return err
	}
	if v.Less(V1_8) {
		n, err := r.ReadInt16()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: negative plugin payload length", ErrCorruptPacket)
		}
		p.Data, err = r.ReadBytes(int(n))
		return err
	}
	p.Data = r.ReadRest()
	return nil
}

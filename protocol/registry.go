package protocol

import "fmt"

// Mapping binds a packet kind to a numeric id for an inclusive range of
// protocol versions.
type Mapping struct {
	ID   int32
	From Version
	To   Version
}

type registration struct {
	kind     Kind
	mappings []Mapping
}

func m(id int32, from, to Version) Mapping {
	return Mapping{ID: id, From: from, To: to}
}

var serverbound = []registration{
	{KindTeleportConfirm, []Mapping{
		m(0x00, V1_9, Latest),
	}},
	{KindKeepAlive, []Mapping{
		m(0x00, V1_7_2, V1_8),
		m(0x0B, V1_9, V1_11_1),
		m(0x0C, V1_12, V1_12),
		m(0x0B, V1_12_1, V1_12_2),
		m(0x0E, V1_13, V1_13_2),
		m(0x0F, V1_14, Latest),
	}},
	{KindClientSettings, []Mapping{
		m(0x15, V1_7_2, V1_8),
		m(0x04, V1_9, V1_11_1),
		m(0x05, V1_12, V1_12),
		m(0x04, V1_12_1, V1_13_2),
		m(0x05, V1_14, Latest),
	}},
	{KindPluginMessage, []Mapping{
		m(0x17, V1_7_2, V1_8),
		m(0x09, V1_9, V1_11_1),
		m(0x0A, V1_12, V1_12),
		m(0x09, V1_12_1, V1_12_2),
		m(0x0A, V1_13, V1_13_2),
		m(0x0B, V1_14, Latest),
	}},
	{KindGroundState, []Mapping{
		m(0x03, V1_7_2, V1_8),
		m(0x0F, V1_9, V1_11_1),
		m(0x0D, V1_12, V1_12),
		m(0x0C, V1_12_1, V1_12_2),
		m(0x0F, V1_13, V1_13_2),
		m(0x14, V1_14, Latest),
	}},
	{KindPosition, []Mapping{
		m(0x04, V1_7_2, V1_8),
		m(0x0C, V1_9, V1_11_1),
		m(0x0E, V1_12, V1_12),
		m(0x0D, V1_12_1, V1_12_2),
		m(0x10, V1_13, V1_13_2),
		m(0x11, V1_14, Latest),
	}},
	{KindPositionLook, []Mapping{
		m(0x06, V1_7_2, V1_8),
		m(0x0D, V1_9, V1_11_1),
		m(0x0F, V1_12, V1_12),
		m(0x0E, V1_12_1, V1_12_2),
		m(0x11, V1_13, V1_13_2),
		m(0x12, V1_14, Latest),
	}},
}

var clientbound = []registration{
	{KindKeepAlive, []Mapping{
		m(0x00, V1_7_2, V1_8),
		m(0x1F, V1_9, V1_12_2),
		m(0x21, V1_13, V1_13_2),
		m(0x20, V1_14, V1_14_4),
		m(0x21, V1_15, Latest),
	}},
	{KindJoinGame, []Mapping{
		m(0x01, V1_7_2, V1_8),
		m(0x23, V1_9, V1_12_2),
		m(0x25, V1_13, V1_14_4),
		m(0x26, V1_15, Latest),
	}},
	{KindServerPositionLook, []Mapping{
		m(0x08, V1_7_2, V1_8),
		m(0x2E, V1_9, V1_12),
		m(0x2F, V1_12_1, V1_12_2),
		m(0x32, V1_13, V1_13_2),
		m(0x35, V1_14, V1_14_4),
		m(0x36, V1_15, Latest),
	}},
	{KindDisconnect, []Mapping{
		m(0x40, V1_7_2, V1_8),
		m(0x1A, V1_9, V1_12_2),
		m(0x1B, V1_13, V1_13_2),
		m(0x1A, V1_14, V1_14_4),
		m(0x1B, V1_15, Latest),
	}},
}

type tableKey struct {
	dir Direction
	v   Version
}

// table is the flattened registry: for every supported version and
// direction, id -> kind and kind -> id.
type table struct {
	byID   map[int32]Kind
	byKind map[Kind]int32
}

var tables = buildTables()

func buildTables() map[tableKey]table {
	out := make(map[tableKey]table)
	add := func(dir Direction, regs []registration) {
		for _, v := range SupportedVersions() {
			t := table{byID: map[int32]Kind{}, byKind: map[Kind]int32{}}
			for _, reg := range regs {
				for _, mp := range reg.mappings {
					if !v.Between(mp.From, mp.To) {
						continue
					}
					if prev, dup := t.byID[mp.ID]; dup {
						panic(fmt.Sprintf("protocol: %s id 0x%02X registered for %s and %s at %s", dir, mp.ID, prev, reg.kind, v))
					}
					t.byID[mp.ID] = reg.kind
					t.byKind[reg.kind] = mp.ID
				}
			}
			out[tableKey{dir: dir, v: v}] = t
		}
	}
	add(Serverbound, serverbound)
	add(Clientbound, clientbound)
	return out
}

// Lookup resolves a numeric id to a packet kind for the given direction and
// version.
func Lookup(dir Direction, id int32, v Version) (Kind, bool) {
	t, ok := tables[tableKey{dir: dir, v: v}]
	if !ok {
		return 0, false
	}
	k, ok := t.byID[id]
	return k, ok
}

// PacketID returns the numeric id of kind for the given direction and
// version.
func PacketID(dir Direction, k Kind, v Version) (int32, bool) {
	t, ok := tables[tableKey{dir: dir, v: v}]
	if !ok {
		return 0, false
	}
	id, ok := t.byKind[k]
	return id, ok
}

// Decode parses one length-framed packet: a VarInt id followed by the body.
// The body must satisfy the variant's declared bounds for v and be consumed
// exactly; anything else is ErrCorruptPacket.
func Decode(dir Direction, frame []byte, v Version) (Packet, error) {
	if !v.Supported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	r := NewReader(frame)
	id, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}

	kind, ok := Lookup(dir, id, v)
	if !ok {
		return nil, fmt.Errorf("%w: %s 0x%02X at %s", ErrUnknownPacket, dir, id, v)
	}

	p := newPacket(kind)
	body := r.Remaining()
	if body < p.MinLength(v) || body > p.MaxLength(v) {
		return nil, fmt.Errorf("%w: %s body is %d bytes, want [%d, %d]",
			ErrCorruptPacket, kind, body, p.MinLength(v), p.MaxLength(v))
	}

	if err := p.decode(r, v); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrCorruptPacket, kind, r.Remaining())
	}

	return p, nil
}

// Encode serializes p with its clientbound id prepended. Inbound-only
// variants return ErrInboundOnly.
func Encode(p Packet, v Version) ([]byte, error) {
	if !v.Supported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	if IsInboundOnly(p) {
		return nil, fmt.Errorf("%w: %s", ErrInboundOnly, p.Kind())
	}

	id, ok := PacketID(Clientbound, p.Kind(), v)
	if !ok {
		return nil, fmt.Errorf("%w: %s not registered at %s", ErrUnknownPacket, p.Kind(), v)
	}

	w := NewWriter()
	w.WriteVarInt(id)
	if err := p.encode(w, v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return w.Bytes(), nil
}

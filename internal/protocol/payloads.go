package protocol

import (
	"errors"
	"fmt"
)

// Payload is implemented by every packet body that has a wire codec.
// MarshalBinary never returns more than MaxSize bytes. UnmarshalBinary needs
// at least MaxSize bytes, ignores anything after them and leaves the receiver
// untouched when it fails.
type Payload interface {
	Type() PacketType
	MaxSize() int
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

func encodeError(t PacketType, err error) error {
	if errors.Is(err, ErrFieldTooLong) {
		return fmt.Errorf("encode %s: %w: %w", t, ErrPayloadOverflow, err)
	}
	return fmt.Errorf("encode %s: %w", t, err)
}

func requireSize(t PacketType, data []byte, size int) error {
	if len(data) < size {
		return fmt.Errorf("decode %s: %w: got %d of %d bytes: %w", t, ErrTruncatedPayload, len(data), size, ErrTruncatedBuffer)
	}
	return nil
}

func build(t PacketType, b *PacketBuilder) ([]byte, error) {
	out, err := b.Build()
	if err != nil {
		return nil, encodeError(t, err)
	}
	return out, nil
}

// ---- Session packets ----

// ConnectPacket is the first packet a client sends.
type ConnectPacket struct {
	Mode ConnectionType
}

func (*ConnectPacket) Type() PacketType { return TypeConnect }
func (*ConnectPacket) MaxSize() int     { return ConnectSize }

func (p *ConnectPacket) MarshalBinary() ([]byte, error) {
	return build(TypeConnect, NewPacketBuilder(ConnectSize).WriteInt32(int32(p.Mode)))
}

// UnmarshalBinary keeps unrecognized modes as-is; see ConnectionType.Known.
func (p *ConnectPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeConnect, data, ConnectSize); err != nil {
		return err
	}
	p.Mode = ConnectionType(NewPacketReader(data).ReadInt32())
	return nil
}

// DisconnectPacket announces that a client is leaving. It has no body.
type DisconnectPacket struct{}

func (*DisconnectPacket) Type() PacketType                 { return TypeDisconnect }
func (*DisconnectPacket) MaxSize() int                     { return DisconnectSize }
func (*DisconnectPacket) MarshalBinary() ([]byte, error)   { return []byte{}, nil }
func (*DisconnectPacket) UnmarshalBinary(data []byte) error { return nil }

// InitPacket is the server's reply to Connect.
type InitPacket struct {
	MaxPlayers uint16
}

// NewInitPacket returns an Init packet with the default player cap.
func NewInitPacket() *InitPacket {
	return &InitPacket{MaxPlayers: DefaultMaxPlayers}
}

func (*InitPacket) Type() PacketType { return TypeInit }
func (*InitPacket) MaxSize() int     { return InitSize }

func (p *InitPacket) MarshalBinary() ([]byte, error) {
	return build(TypeInit, NewPacketBuilder(InitSize).WriteUint16(p.MaxPlayers))
}

func (p *InitPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeInit, data, InitSize); err != nil {
		return err
	}
	p.MaxPlayers = NewPacketReader(data).ReadUint16()
	return nil
}

// ChangeStagePacket asks the game to load a stage.
type ChangeStagePacket struct {
	Stage           string
	StageID         string
	Scenario        int8
	SubScenarioType uint8
}

// NewChangeStagePacket returns a stage change with the default scenario.
func NewChangeStagePacket(stage string) *ChangeStagePacket {
	return &ChangeStagePacket{Stage: stage, Scenario: DefaultScenario}
}

func (*ChangeStagePacket) Type() PacketType { return TypeChangeStage }
func (*ChangeStagePacket) MaxSize() int     { return ChangeStageSize }

func (p *ChangeStagePacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(ChangeStageSize).
		WriteFixedString(p.Stage, StageNameSize).
		WriteFixedString(p.StageID, StageIDSize).
		WriteInt8(p.Scenario).
		WriteUint8(p.SubScenarioType)
	return build(TypeChangeStage, b)
}

func (p *ChangeStagePacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeChangeStage, data, ChangeStageSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	stage := r.ReadFixedString(StageNameSize)
	stageID := r.ReadFixedString(StageIDSize)
	scenario := r.ReadInt8()
	sub := r.ReadUint8()
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", TypeChangeStage, err)
	}
	*p = ChangeStagePacket{Stage: stage, StageID: stageID, Scenario: scenario, SubScenarioType: sub}
	return nil
}

// ---- Check packets ----

// ShinePacket reports a collected moon, or grants one when sent by the server.
type ShinePacket struct {
	ID int32
}

func (*ShinePacket) Type() PacketType { return TypeShine }
func (*ShinePacket) MaxSize() int     { return ShineSize }

func (p *ShinePacket) MarshalBinary() ([]byte, error) {
	return build(TypeShine, NewPacketBuilder(ShineSize).WriteInt32(p.ID))
}

func (p *ShinePacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeShine, data, ShineSize); err != nil {
		return err
	}
	p.ID = NewPacketReader(data).ReadInt32()
	return nil
}

// ShineChecksPacket carries 24 shine uids positionally, with no count prefix.
// Unused slots hold EmptyShineSlot.
type ShineChecksPacket struct {
	Checks [ShineCheckCount]int32
}

// NewShineChecks fills the slots in order and pads the rest with EmptyShineSlot.
func NewShineChecks(ids ...int32) (*ShineChecksPacket, error) {
	if len(ids) > ShineCheckCount {
		return nil, fmt.Errorf("encode %s: %w: %d checks, at most %d per packet", TypeShineChecks, ErrPayloadOverflow, len(ids), ShineCheckCount)
	}
	p := &ShineChecksPacket{}
	for i := range p.Checks {
		p.Checks[i] = EmptyShineSlot
	}
	copy(p.Checks[:], ids)
	return p, nil
}

// IDs returns the filled slots, skipping EmptyShineSlot.
func (p *ShineChecksPacket) IDs() []int32 {
	ids := make([]int32, 0, ShineCheckCount)
	for _, id := range p.Checks {
		if id != EmptyShineSlot {
			ids = append(ids, id)
		}
	}
	return ids
}

func (*ShineChecksPacket) Type() PacketType { return TypeShineChecks }
func (*ShineChecksPacket) MaxSize() int     { return ShineChecksSize }

func (p *ShineChecksPacket) MarshalBinary() ([]byte, error) {
	return build(TypeShineChecks, NewPacketBuilder(ShineChecksSize).WriteInt32Array(p.Checks[:]))
}

func (p *ShineChecksPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeShineChecks, data, ShineChecksSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	checks := r.ReadInt32Array(ShineCheckCount)
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", TypeShineChecks, err)
	}
	copy(p.Checks[:], checks)
	return nil
}

// ItemPacket names an item and its kind.
type ItemPacket struct {
	Name string
	Kind int32
}

func (*ItemPacket) Type() PacketType { return TypeItem }
func (*ItemPacket) MaxSize() int     { return ItemSize }

func (p *ItemPacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(ItemSize).
		WriteFixedString(p.Name, ItemNameSize).
		WriteInt32(p.Kind)
	return build(TypeItem, b)
}

func (p *ItemPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeItem, data, ItemSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	name := r.ReadFixedString(ItemNameSize)
	kind := r.ReadInt32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", TypeItem, err)
	}
	p.Name, p.Kind = name, kind
	return nil
}

// FillerPacket carries a filler item kind (coins and the like).
type FillerPacket struct {
	Kind int32
}

func (*FillerPacket) Type() PacketType { return TypeFiller }
func (*FillerPacket) MaxSize() int     { return FillerSize }

func (p *FillerPacket) MarshalBinary() ([]byte, error) {
	return build(TypeFiller, NewPacketBuilder(FillerSize).WriteInt32(p.Kind))
}

func (p *FillerPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeFiller, data, FillerSize); err != nil {
		return err
	}
	p.Kind = NewPacketReader(data).ReadInt32()
	return nil
}

// RegionalCollectPacket identifies a regional coin by object id and stage.
type RegionalCollectPacket struct {
	ObjectID string
	Stage    string
}

func (*RegionalCollectPacket) Type() PacketType { return TypeRegionalCollect }
func (*RegionalCollectPacket) MaxSize() int     { return RegionalCollectSize }

func (p *RegionalCollectPacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(RegionalCollectSize).
		WriteFixedString(p.ObjectID, ObjectIDSize).
		WriteFixedString(p.Stage, StageNameSize)
	return build(TypeRegionalCollect, b)
}

func (p *RegionalCollectPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeRegionalCollect, data, RegionalCollectSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	objectID := r.ReadFixedString(ObjectIDSize)
	stage := r.ReadFixedString(StageNameSize)
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", TypeRegionalCollect, err)
	}
	p.ObjectID, p.Stage = objectID, stage
	return nil
}

// ---- Server packets ----

// ChatMessagePacket holds exactly three 75-byte lines; missing lines are empty.
type ChatMessagePacket struct {
	Lines [ChatLineCount]string
}

// NewChatMessage places up to three lines positionally.
func NewChatMessage(lines ...string) (*ChatMessagePacket, error) {
	if len(lines) > ChatLineCount {
		return nil, fmt.Errorf("encode %s: %w: %d lines, at most %d", TypeArchipelagoChat, ErrPayloadOverflow, len(lines), ChatLineCount)
	}
	p := &ChatMessagePacket{}
	copy(p.Lines[:], lines)
	return p, nil
}

func (*ChatMessagePacket) Type() PacketType { return TypeArchipelagoChat }
func (*ChatMessagePacket) MaxSize() int     { return ChatMessageSize }

func (p *ChatMessagePacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(ChatMessageSize)
	for i, line := range p.Lines {
		b.WriteFixedString(line, ChatLineSize)
		if err := b.Err(); err != nil {
			return nil, encodeError(TypeArchipelagoChat, fmt.Errorf("line %d: %w", i, err))
		}
	}
	return build(TypeArchipelagoChat, b)
}

func (p *ChatMessagePacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeArchipelagoChat, data, ChatMessageSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	var lines [ChatLineCount]string
	for i := range lines {
		lines[i] = r.ReadFixedString(ChatLineSize)
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", TypeArchipelagoChat, err)
	}
	p.Lines = lines
	return nil
}

// SlotDataPacket carries the per-slot game options.
type SlotDataPacket struct {
	Clash     uint16
	Raid      uint16
	Regionals bool
	Captures  bool
}

func (*SlotDataPacket) Type() PacketType { return TypeSlotData }
func (*SlotDataPacket) MaxSize() int     { return SlotDataSize }

func (p *SlotDataPacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(SlotDataSize).
		WriteUint16(p.Clash).
		WriteUint16(p.Raid).
		WriteBool(p.Regionals).
		WriteBool(p.Captures)
	return build(TypeSlotData, b)
}

func (p *SlotDataPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeSlotData, data, SlotDataSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	*p = SlotDataPacket{
		Clash:     r.ReadUint16(),
		Raid:      r.ReadUint16(),
		Regionals: r.ReadBool(),
		Captures:  r.ReadBool(),
	}
	return nil
}

// DeathLinkPacket signals a shared death. It has no body.
type DeathLinkPacket struct{}

func (*DeathLinkPacket) Type() PacketType                 { return TypeDeathLink }
func (*DeathLinkPacket) MaxSize() int                     { return DeathLinkSize }
func (*DeathLinkPacket) MarshalBinary() ([]byte, error)   { return []byte{}, nil }
func (*DeathLinkPacket) UnmarshalBinary(data []byte) error { return nil }

// ProgressPacket reports the world and scenario a client has reached.
type ProgressPacket struct {
	World    int32
	Scenario int32
}

// NewProgressPacket returns progress for world with the default scenario.
func NewProgressPacket(world int32) *ProgressPacket {
	return &ProgressPacket{World: world, Scenario: int32(DefaultScenario)}
}

func (*ProgressPacket) Type() PacketType { return TypeProgress }
func (*ProgressPacket) MaxSize() int     { return ProgressSize }

func (p *ProgressPacket) MarshalBinary() ([]byte, error) {
	b := NewPacketBuilder(ProgressSize).
		WriteInt32(p.World).
		WriteInt32(p.Scenario)
	return build(TypeProgress, b)
}

func (p *ProgressPacket) UnmarshalBinary(data []byte) error {
	if err := requireSize(TypeProgress, data, ProgressSize); err != nil {
		return err
	}
	r := NewPacketReader(data)
	world := r.ReadInt32()
	scenario := r.ReadInt32()
	p.World, p.Scenario = world, scenario
	return nil
}

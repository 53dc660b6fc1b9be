package protocol

import "fmt"

type variant struct {
	name string
	// new is nil for tags the connector knows but never encodes or decodes.
	new func() Payload
	// receive is false for tags that are accepted and discarded when inbound.
	receive bool
}

// variants is indexed by tag. Holes (17) have an empty name.
var variants = [...]variant{
	TypeUnknown:     {name: "Unknown"},
	TypeInit:        {name: "Init", new: func() Payload { return NewInitPacket() }, receive: true},
	TypePlayerInfo:  {name: "PlayerInfo"},
	TypeHackCapInfo: {name: "HackCapInfo"},
	TypeGameInfo:    {name: "GameInfo"},
	TypeTagInfo:     {name: "TagInfo"},
	TypeConnect:     {name: "Connect", new: func() Payload { return &ConnectPacket{} }, receive: true},
	TypeDisconnect:  {name: "Disconnect", new: func() Payload { return &DisconnectPacket{} }, receive: true},
	TypeCostumeInfo: {name: "CostumeInfo"},
	TypeShine:       {name: "Shine", new: func() Payload { return &ShinePacket{} }, receive: true},
	TypeCaptureInfo: {name: "CaptureInfo"},
	// Clients no longer send stage changes; the server still does.
	TypeChangeStage:     {name: "ChangeStage", new: func() Payload { return NewChangeStagePacket("") }},
	TypeCommand:         {name: "Command"},
	TypeItem:            {name: "Item", new: func() Payload { return &ItemPacket{} }, receive: true},
	TypeFiller:          {name: "Filler", new: func() Payload { return &FillerPacket{} }, receive: true},
	TypeArchipelagoChat: {name: "ArchipelagoChat", new: func() Payload { return &ChatMessagePacket{} }},
	TypeSlotData:        {name: "SlotData", new: func() Payload { return &SlotDataPacket{} }, receive: true},
	TypeRegionalCollect: {name: "RegionalCollect", new: func() Payload { return &RegionalCollectPacket{} }},
	TypeDeathLink:       {name: "DeathLink", new: func() Payload { return &DeathLinkPacket{} }, receive: true},
	TypeProgress:        {name: "Progress", new: func() Payload { return NewProgressPacket(0) }, receive: true},
	TypeShineChecks:     {name: "ShineChecks", new: func() Payload { return newEmptyShineChecks() }, receive: true},
}

func newEmptyShineChecks() *ShineChecksPacket {
	p, _ := NewShineChecks()
	return p
}

func lookup(t PacketType) (variant, bool) {
	if int(t) >= len(variants) || variants[t].name == "" {
		return variant{}, false
	}
	return variants[t], true
}

// Types returns every tag of the enumeration in ascending order.
func Types() []PacketType {
	out := make([]PacketType, 0, len(variants))
	for i, v := range variants {
		if v.name != "" {
			out = append(out, PacketType(i))
		}
	}
	return out
}

// HasCodec reports whether t has a payload encoder and decoder.
func HasCodec(t PacketType) bool {
	v, ok := lookup(t)
	return ok && v.new != nil
}

// Decoded reports whether inbound packets of type t are decoded rather than
// discarded.
func Decoded(t PacketType) bool {
	v, ok := lookup(t)
	return ok && v.new != nil && v.receive
}

// ParseType resolves a tag name such as "Shine" to its PacketType.
func ParseType(name string) (PacketType, error) {
	for i, v := range variants {
		if v.name != "" && v.name == name {
			return PacketType(i), nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownPacketType, name)
}

// NewPayload returns the zero payload for t, with protocol defaults applied.
func NewPayload(t PacketType) (Payload, error) {
	v, ok := lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownPacketType, uint16(t))
	}
	if v.new == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, t)
	}
	return v.new(), nil
}

// DecodePayload decodes data as the payload for t, whether or not inbound
// packets of that type are normally discarded.
func DecodePayload(t PacketType, data []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// Package protocol implements the binary wire format spoken between the
// Super Mario Odyssey Archipelago mod and the connector. Every packet is a
// fixed 20-byte header followed by a fixed-layout payload. All multi-byte
// integers are little-endian; strings are UTF-8 in zero-padded slots.
package protocol

import "strconv"

// PacketType is the 16-bit tag carried in every header.
type PacketType uint16

// Packet type tags. The values are part of the wire contract; 17 is unused.
const (
	TypeUnknown         PacketType = 0
	TypeInit            PacketType = 1
	TypePlayerInfo      PacketType = 2
	TypeHackCapInfo     PacketType = 3
	TypeGameInfo        PacketType = 4
	TypeTagInfo         PacketType = 5
	TypeConnect         PacketType = 6
	TypeDisconnect      PacketType = 7
	TypeCostumeInfo     PacketType = 8
	TypeShine           PacketType = 9
	TypeCaptureInfo     PacketType = 10
	TypeChangeStage     PacketType = 11
	TypeCommand         PacketType = 12
	TypeItem            PacketType = 13
	TypeFiller          PacketType = 14
	TypeArchipelagoChat PacketType = 15
	TypeSlotData        PacketType = 16
	TypeRegionalCollect PacketType = 18
	TypeDeathLink       PacketType = 19
	TypeProgress        PacketType = 20
	TypeShineChecks     PacketType = 21
)

// Header layout.
const (
	IDSize     = 16
	HeaderSize = IDSize + 2 + 2
)

// Fixed string slot capacities in bytes.
const (
	StageNameSize   = 48
	StageIDSize     = 16
	ItemNameSize    = 128
	ObjectIDSize    = 16
	ChatLineSize    = 75
	ChatLineCount   = 3
	ShineCheckCount = 24
)

// Payload sizes in bytes.
const (
	ConnectSize         = 4
	DisconnectSize      = 0
	InitSize            = 2
	ChangeStageSize     = StageNameSize + StageIDSize + 1 + 1
	ShineSize           = 4
	ShineChecksSize     = ShineCheckCount * 4
	ItemSize            = ItemNameSize + 4
	FillerSize          = 4
	RegionalCollectSize = ObjectIDSize + StageNameSize
	ChatMessageSize     = ChatLineSize * ChatLineCount
	SlotDataSize        = 2 + 2 + 1 + 1
	DeathLinkSize       = 0
	ProgressSize        = 4 + 4
)

// MaxPacketSize is the largest packet the connector ever builds or accepts.
const MaxPacketSize = HeaderSize + ChatMessageSize

// Protocol defaults.
const (
	DefaultMaxPlayers uint16 = 4
	DefaultScenario   int8   = -1
	EmptyShineSlot    int32  = -1
)

// ConnectionType tells the server whether a client is new or resuming.
type ConnectionType int32

const (
	ConnectionFirst     ConnectionType = 0
	ConnectionReconnect ConnectionType = 1
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionFirst:
		return "connect"
	case ConnectionReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Known reports whether c is one of the defined connection modes.
func (c ConnectionType) Known() bool {
	return c == ConnectionFirst || c == ConnectionReconnect
}

// String returns the tag name used in logs, e.g. "Shine" or "PacketType(17)".
func (t PacketType) String() string {
	if v, ok := lookup(t); ok {
		return v.name
	}
	return "PacketType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a tag of the enumeration.
func (t PacketType) Valid() bool {
	_, ok := lookup(t)
	return ok
}

// Package events defines the event types passed between the connector's
// components: the session manager emits them, telemetry and the CLI consume them.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an event on the bus.
type EventType string

const (
	// Client lifecycle
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"

	// Checks reported by a client
	EventShineCollected  EventType = "shine_collected"
	EventItemCollected   EventType = "item_collected"
	EventFillerCollected EventType = "filler_collected"
	EventProgressChanged EventType = "progress_changed"
	EventDeathLink       EventType = "death_link"

	// Packet traffic
	EventPacketIgnored EventType = "packet_ignored"
	EventPacketSent    EventType = "packet_sent"

	// System
	EventHeartbeat     EventType = "heartbeat"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// ClientPayload accompanies connect and disconnect events.
type ClientPayload struct {
	ClientID uuid.UUID `json:"client_id"`
	Remote   string    `json:"remote"`
	Mode     string    `json:"mode,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// CheckKind classifies a recorded check.
type CheckKind string

const (
	CheckShine  CheckKind = "shine"
	CheckItem   CheckKind = "item"
	CheckFiller CheckKind = "filler"
)

// CheckPayload accompanies shine, item and filler events.
type CheckPayload struct {
	ClientID uuid.UUID `json:"client_id"`
	Kind     CheckKind `json:"kind"`
	Location int32     `json:"location"`
	Name     string    `json:"name,omitempty"`
}

// ProgressPayload accompanies progress events.
type ProgressPayload struct {
	ClientID uuid.UUID `json:"client_id"`
	World    int32     `json:"world"`
	Scenario int32     `json:"scenario"`
}

// DeathLinkPayload accompanies death link events. Origin is the client that
// died; Relayed counts the clients the death was forwarded to.
type DeathLinkPayload struct {
	Origin  uuid.UUID `json:"origin"`
	Relayed int       `json:"relayed"`
}

// PacketPayload accompanies packet traffic events.
type PacketPayload struct {
	ClientID uuid.UUID `json:"client_id"`
	Type     string    `json:"type"`
	Size     int       `json:"size"`
}

// HeartbeatPayload is emitted periodically by the health manager.
type HeartbeatPayload struct {
	Clients    int   `json:"clients"`
	PacketsIn  int64 `json:"packets_in"`
	PacketsOut int64 `json:"packets_out"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}

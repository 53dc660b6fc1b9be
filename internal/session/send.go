package session

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

// Send encodes payload with the server id and writes it to one client.
func (m *Manager) Send(ctx context.Context, id uuid.UUID, payload protocol.Payload) error {
	conn, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}

	pkt := protocol.New(m.serverID, payload)
	if err := conn.WritePacket(pkt); err != nil {
		return err
	}

	m.emit(ctx, events.EventPacketSent, events.PacketPayload{
		ClientID: id,
		Type:     payload.Type().String(),
		Size:     int(pkt.Header.Size),
	})
	return nil
}

// SendItem grants an item by name and kind.
func (m *Manager) SendItem(ctx context.Context, id uuid.UUID, name string, kind int32) error {
	return m.Send(ctx, id, &protocol.ItemPacket{Name: name, Kind: kind})
}

// SendFiller grants a filler item.
func (m *Manager) SendFiller(ctx context.Context, id uuid.UUID, kind int32) error {
	return m.Send(ctx, id, &protocol.FillerPacket{Kind: kind})
}

// SendShine grants a single shine.
func (m *Manager) SendShine(ctx context.Context, id uuid.UUID, shine int32) error {
	return m.Send(ctx, id, &protocol.ShinePacket{ID: shine})
}

// SendShineChecks sends shine ids in packets of up to 24 and returns the
// number of packets written.
func (m *Manager) SendShineChecks(ctx context.Context, id uuid.UUID, shines []int32) (int, error) {
	sent := 0
	for start := 0; start < len(shines); start += protocol.ShineCheckCount {
		end := min(start+protocol.ShineCheckCount, len(shines))
		p, err := protocol.NewShineChecks(shines[start:end]...)
		if err != nil {
			return sent, err
		}
		if err := m.Send(ctx, id, p); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// SendChat sends one chat message of up to three lines.
func (m *Manager) SendChat(ctx context.Context, id uuid.UUID, lines ...string) error {
	p, err := protocol.NewChatMessage(lines...)
	if err != nil {
		return err
	}
	return m.Send(ctx, id, p)
}

// SendChangeStage asks the client to load stage at scenario.
func (m *Manager) SendChangeStage(ctx context.Context, id uuid.UUID, stage, stageID string, scenario int8) error {
	p := protocol.NewChangeStagePacket(stage)
	p.StageID = stageID
	p.Scenario = scenario
	return m.Send(ctx, id, p)
}

// SendRegionalCollect marks a regional coin as collected.
func (m *Manager) SendRegionalCollect(ctx context.Context, id uuid.UUID, objectID, stage string) error {
	return m.Send(ctx, id, &protocol.RegionalCollectPacket{ObjectID: objectID, Stage: stage})
}

// SendProgress tells the client which world and scenario it has unlocked.
func (m *Manager) SendProgress(ctx context.Context, id uuid.UUID, world, scenario int32) error {
	return m.Send(ctx, id, &protocol.ProgressPacket{World: world, Scenario: scenario})
}

// SendSlotData resends the configured slot options.
func (m *Manager) SendSlotData(ctx context.Context, id uuid.UUID) error {
	return m.Send(ctx, id, m.slotDataPacket())
}

// BroadcastDeathLink kills every connected client and returns how many
// were reached.
func (m *Manager) BroadcastDeathLink(ctx context.Context) (int, error) {
	n, err := m.registry.Broadcast(protocol.New(m.serverID, &protocol.DeathLinkPacket{}), uuid.Nil)
	if err != nil {
		return 0, err
	}
	m.emit(ctx, events.EventDeathLink, events.DeathLinkPayload{Relayed: n})
	return n, nil
}

// BroadcastChat wraps text into chat messages and sends them to every
// client. It returns the number of clients reached by the last message.
func (m *Manager) BroadcastChat(ctx context.Context, text string) (int, error) {
	reached := 0
	for _, lines := range SplitChat(text) {
		p, err := protocol.NewChatMessage(lines...)
		if err != nil {
			return reached, err
		}
		n, err := m.registry.Broadcast(protocol.New(m.serverID, p), uuid.Nil)
		if err != nil {
			return reached, err
		}
		reached = n
	}
	return reached, nil
}

// SplitChat breaks text into 75-byte lines grouped three to a message.
// Lines never split a UTF-8 sequence; NUL bytes are dropped and invalid
// bytes become U+FFFD.
func SplitChat(text string) [][]string {
	var (
		lines []string
		cur   []byte
	)
	for _, r := range text {
		if r == 0 {
			continue
		}
		if r == '\n' {
			lines = append(lines, string(cur))
			cur = cur[:0]
			continue
		}
		if len(cur)+utf8.RuneLen(r) > protocol.ChatLineSize {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
		cur = utf8.AppendRune(cur, r)
	}
	if len(cur) > 0 || len(lines) == 0 {
		lines = append(lines, string(cur))
	}

	var messages [][]string
	for start := 0; start < len(lines); start += protocol.ChatLineCount {
		end := min(start+protocol.ChatLineCount, len(lines))
		messages = append(messages, lines[start:end])
	}
	return messages
}

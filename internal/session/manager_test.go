package session

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/network"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

type peer struct {
	conn *network.Connection
	in   chan *protocol.Packet
}

func (p *peer) next(t *testing.T) *protocol.Packet {
	t.Helper()
	select {
	case pkt, ok := <-p.in:
		if !ok {
			t.Fatal("connection closed before the expected packet")
		}
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a packet")
	}
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.ServerID = uuid.NewString()
	cfg.Server.MaxPlayers = 4
	cfg.SlotData = config.SlotDataConfig{Clash: 2, Raid: 3, Regionals: true}
	return cfg
}

func newTestManager(t *testing.T, bus *events.EventBus, store *db.CheckStore) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), bus, store, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// connect attaches a client over a pipe and consumes the Init and SlotData
// replies.
func connect(t *testing.T, m *Manager, id uuid.UUID) *peer {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	conn := network.NewConnection(server, nil)
	conn.SetIdentity(id, protocol.ConnectionFirst)

	p := &peer{conn: conn, in: make(chan *protocol.Packet, 32)}
	go func() {
		defer close(p.in)
		for {
			pkt, err := protocol.ReadPacket(client)
			if err != nil {
				return
			}
			p.in <- pkt
		}
	}()

	if err := m.HandleConnect(context.Background(), conn); err != nil {
		t.Fatalf("HandleConnect failed: %v", err)
	}
	p.next(t)
	p.next(t)
	return p
}

func TestConnectSendsInitThenSlotData(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id := uuid.New()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := network.NewConnection(server, nil)
	conn.SetIdentity(id, protocol.ConnectionReconnect)

	got := make(chan *protocol.Packet, 2)
	go func() {
		for i := 0; i < 2; i++ {
			pkt, err := protocol.ReadPacket(client)
			if err != nil {
				return
			}
			got <- pkt
		}
	}()

	if err := m.HandleConnect(context.Background(), conn); err != nil {
		t.Fatalf("HandleConnect failed: %v", err)
	}

	initPkt := <-got
	if initPkt.Header.ID != m.ServerID() {
		t.Errorf("header id = %s, want server id %s", initPkt.Header.ID, m.ServerID())
	}
	if p, ok := initPkt.Payload.(*protocol.InitPacket); !ok || p.MaxPlayers != 4 {
		t.Fatalf("first packet = %v, want Init{4}", initPkt)
	}

	slot := <-got
	want := protocol.SlotDataPacket{Clash: 2, Raid: 3, Regionals: true}
	if p, ok := slot.Payload.(*protocol.SlotDataPacket); !ok || *p != want {
		t.Fatalf("second packet = %v, want %+v", slot, want)
	}

	info, err := m.Client(id)
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if info.Mode != "reconnect" || info.Scenario != int32(protocol.DefaultScenario) || info.PacketsOut != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestHandlePacketRecordsChecks(t *testing.T) {
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "checks.db"))
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	defer database.Close()
	store, err := db.NewCheckStore(database)
	if err != nil {
		t.Fatalf("NewCheckStore failed: %v", err)
	}

	bus := events.NewEventBus()
	defer bus.Stop()
	shines := make(chan int32, 8)
	bus.Subscribe(events.EventShineCollected, "test", func(ctx context.Context, e events.Event) error {
		shines <- e.Payload.(events.CheckPayload).Location
		return nil
	})
	ignored := make(chan string, 1)
	bus.Subscribe(events.EventPacketIgnored, "test", func(ctx context.Context, e events.Event) error {
		ignored <- e.Payload.(events.PacketPayload).Type
		return nil
	})

	m := newTestManager(t, bus, store)
	id := uuid.New()
	p := connect(t, m, id)
	ctx := context.Background()

	checks, _ := protocol.NewShineChecks(5, 6)
	for _, payload := range []protocol.Payload{
		&protocol.ShinePacket{ID: 5},
		&protocol.ShinePacket{ID: 5},
		checks,
		&protocol.ItemPacket{Name: "Cap Throw", Kind: 1},
		&protocol.FillerPacket{Kind: 3},
		&protocol.ProgressPacket{World: 3, Scenario: 2},
	} {
		m.HandlePacket(ctx, p.conn, protocol.New(id, payload))
	}
	m.HandlePacket(ctx, p.conn, &protocol.Packet{
		Header: protocol.Header{ID: id, Type: protocol.TypeCostumeInfo, Size: 8},
	})

	seen := map[int32]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-shines:
			seen[s] = true
		case <-time.After(2 * time.Second):
			t.Fatal("shine event not emitted")
		}
	}
	if !seen[5] || !seen[6] {
		t.Errorf("shine events = %v, want 5 and 6", seen)
	}

	select {
	case typ := <-ignored:
		if typ != "CostumeInfo" {
			t.Errorf("ignored type = %q", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("packet_ignored not emitted")
	}

	info, err := m.Client(id)
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if info.Shines != 2 || info.Items != 1 || info.Fillers != 1 {
		t.Errorf("counts = %d/%d/%d", info.Shines, info.Items, info.Fillers)
	}
	if info.World != 3 || info.Scenario != 2 {
		t.Errorf("progress = %d/%d", info.World, info.Scenario)
	}

	stored, err := store.CollectedShines(ctx, id)
	if err != nil || len(stored) != 2 {
		t.Errorf("stored shines = %v, %v", stored, err)
	}
	counts, _ := store.Counts(ctx, id)
	if counts[db.KindItem] != 1 || counts[db.KindFiller] != 1 {
		t.Errorf("stored counts = %v", counts)
	}
	rec, _ := store.Client(ctx, id)
	if rec == nil || rec.World != 3 {
		t.Errorf("stored client = %+v", rec)
	}
}

func TestDeathLinkRelayedToOthers(t *testing.T) {
	m := newTestManager(t, nil, nil)
	a := connect(t, m, uuid.New())
	b := connect(t, m, uuid.New())

	m.HandlePacket(context.Background(), a.conn, protocol.New(a.conn.ID(), &protocol.DeathLinkPacket{}))

	if pkt := b.next(t); pkt.Header.Type != protocol.TypeDeathLink {
		t.Errorf("b received %s, want DeathLink", pkt.Header.Type)
	}
	if _, out := a.conn.Counters(); out != 2 {
		t.Errorf("origin was sent %d packets, want only Init and SlotData", out)
	}
}

func TestDeathLinkDisabled(t *testing.T) {
	m := newTestManager(t, nil, nil)
	m.cfg.Server.DeathLinkEnabled = false
	a := connect(t, m, uuid.New())
	b := connect(t, m, uuid.New())

	m.HandlePacket(context.Background(), a.conn, protocol.New(a.conn.ID(), &protocol.DeathLinkPacket{}))

	if _, out := b.conn.Counters(); out != 2 {
		t.Errorf("death link relayed while disabled: %d packets sent", out)
	}
}

func TestSendUnknownClient(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()
	missing := uuid.New()

	if err := m.SendShine(ctx, missing, 1); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("SendShine err = %v", err)
	}
	if _, err := m.Client(missing); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Client err = %v", err)
	}
}

func TestSendPayloads(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id := uuid.New()
	p := connect(t, m, id)
	ctx := context.Background()

	tests := []struct {
		name  string
		send  func() error
		check func(t *testing.T, pkt *protocol.Packet)
	}{
		{
			name: "item",
			send: func() error { return m.SendItem(ctx, id, "Power Moon", 2) },
			check: func(t *testing.T, pkt *protocol.Packet) {
				if it := pkt.Payload.(*protocol.ItemPacket); it.Name != "Power Moon" || it.Kind != 2 {
					t.Errorf("item = %+v", it)
				}
			},
		},
		{
			name: "filler",
			send: func() error { return m.SendFiller(ctx, id, 7) },
			check: func(t *testing.T, pkt *protocol.Packet) {
				if f := pkt.Payload.(*protocol.FillerPacket); f.Kind != 7 {
					t.Errorf("filler = %+v", f)
				}
			},
		},
		{
			name: "stage",
			send: func() error { return m.SendChangeStage(ctx, id, "CapWorldHomeStage", "", 1) },
			check: func(t *testing.T, pkt *protocol.Packet) {
				if pkt.Header.Type != protocol.TypeChangeStage || pkt.Header.Size != protocol.ChangeStageSize {
					t.Errorf("header = %v", pkt.Header)
				}
			},
		},
		{
			name: "progress",
			send: func() error { return m.SendProgress(ctx, id, 4, 1) },
			check: func(t *testing.T, pkt *protocol.Packet) {
				if pr := pkt.Payload.(*protocol.ProgressPacket); pr.World != 4 || pr.Scenario != 1 {
					t.Errorf("progress = %+v", pr)
				}
			},
		},
		{
			name: "chat",
			send: func() error { return m.SendChat(ctx, id, "hello", "world") },
			check: func(t *testing.T, pkt *protocol.Packet) {
				if pkt.Header.Type != protocol.TypeArchipelagoChat || pkt.Header.Size != protocol.ChatMessageSize {
					t.Errorf("header = %v", pkt.Header)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			tt.check(t, p.next(t))
		})
	}
}

func TestSendOverflowIsRejected(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id := uuid.New()
	p := connect(t, m, id)

	err := m.SendItem(context.Background(), id, strings.Repeat("x", protocol.ItemNameSize+1), 0)
	if !errors.Is(err, protocol.ErrPayloadOverflow) {
		t.Fatalf("err = %v, want ErrPayloadOverflow", err)
	}
	if _, out := p.conn.Counters(); out != 2 {
		t.Errorf("nothing should be written on overflow, sent %d", out)
	}
}

func TestSendShineChecksBatches(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id := uuid.New()
	p := connect(t, m, id)

	ids := make([]int32, 30)
	for i := range ids {
		ids[i] = int32(i + 100)
	}
	n, err := m.SendShineChecks(context.Background(), id, ids)
	if err != nil {
		t.Fatalf("SendShineChecks failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("sent %d packets, want 2", n)
	}

	first := p.next(t).Payload.(*protocol.ShineChecksPacket)
	second := p.next(t).Payload.(*protocol.ShineChecksPacket)
	if len(first.IDs()) != protocol.ShineCheckCount || first.Checks[0] != 100 {
		t.Errorf("first batch = %v", first.Checks)
	}
	if got := second.IDs(); len(got) != 6 || got[5] != 129 {
		t.Errorf("second batch = %v", got)
	}
	if second.Checks[6] != protocol.EmptyShineSlot {
		t.Errorf("padding = %d, want %d", second.Checks[6], protocol.EmptyShineSlot)
	}
}

func TestBroadcastChat(t *testing.T) {
	m := newTestManager(t, nil, nil)
	a := connect(t, m, uuid.New())
	b := connect(t, m, uuid.New())

	n, err := m.BroadcastChat(context.Background(), "server restarting")
	if err != nil {
		t.Fatalf("BroadcastChat failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reached %d clients, want 2", n)
	}
	// Chat is server-to-client only, so the receiving side does not decode it.
	for _, p := range []*peer{a, b} {
		pkt := p.next(t)
		if pkt.Header.Type != protocol.TypeArchipelagoChat || !pkt.Ignored() {
			t.Errorf("received %v", pkt)
		}
		if pkt.Header.ID != m.ServerID() {
			t.Errorf("header id = %s", pkt.Header.ID)
		}
	}
}

func TestReconnectKeepsSuccessor(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id := uuid.New()
	first := connect(t, m, id)
	second := connect(t, m, id)

	if !first.conn.IsClosed() {
		t.Error("replaced connection should be closed")
	}
	m.HandleDisconnect(context.Background(), first.conn, "connection closed")

	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
	if err := m.SendFiller(context.Background(), id, 1); err != nil {
		t.Fatalf("successor should still be reachable: %v", err)
	}
	if pkt := second.next(t); pkt.Header.Type != protocol.TypeFiller {
		t.Errorf("successor received %s", pkt.Header.Type)
	}
}

func TestSplitChat(t *testing.T) {
	long := strings.Repeat("a", protocol.ChatLineSize+5)
	tests := []struct {
		name string
		text string
		want [][]string
	}{
		{"empty", "", [][]string{{""}}},
		{"short", "hi", [][]string{{"hi"}}},
		{"wrapped", long, [][]string{{strings.Repeat("a", protocol.ChatLineSize), "aaaaa"}}},
		{"newlines", "a\nb\nc\nd", [][]string{{"a", "b", "c"}, {"d"}}},
		{"nul dropped", "a\x00b", [][]string{{"ab"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitChat(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if strings.Join(got[i], "|") != strings.Join(tt.want[i], "|") {
					t.Errorf("message %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitChatKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", protocol.ChatLineSize)
	for _, msg := range SplitChat(text) {
		for _, line := range msg {
			if len(line) > protocol.ChatLineSize {
				t.Errorf("line of %d bytes exceeds %d", len(line), protocol.ChatLineSize)
			}
			if !strings.HasSuffix(line, "é") && line != "" {
				t.Errorf("line ends mid-rune: %q", line)
			}
		}
	}
}

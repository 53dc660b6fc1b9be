package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/network"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/session"
)

type fixture struct {
	cfg      *config.Config
	sessions *session.Manager
	store    *db.CheckStore
	server   *Server
	received chan *protocol.Packet
	clientID uuid.UUID
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ServerID = uuid.NewString()
	cfg.API.RateLimitRPS = 0
	if tweak != nil {
		tweak(cfg)
	}

	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "checks.db"))
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store, err := db.NewCheckStore(database)
	if err != nil {
		t.Fatalf("NewCheckStore failed: %v", err)
	}

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	sessions, err := session.NewManager(cfg, bus, store, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	f := &fixture{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		server:   NewServer(cfg, bus, sessions, store, metrics.New()),
		received: make(chan *protocol.Packet, 16),
		clientID: uuid.New(),
	}
	f.attachClient(t)
	return f
}

// attachClient connects one client over a pipe and drains its handshake replies.
func (f *fixture) attachClient(t *testing.T) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	conn := network.NewConnection(server, nil)
	conn.SetIdentity(f.clientID, protocol.ConnectionFirst)

	go func() {
		for {
			pkt, err := protocol.ReadPacket(client)
			if err != nil {
				return
			}
			f.received <- pkt
		}
	}()

	if err := f.sessions.HandleConnect(context.Background(), conn); err != nil {
		t.Fatalf("HandleConnect failed: %v", err)
	}
	f.next(t)
	f.next(t)
}

func (f *fixture) next(t *testing.T) *protocol.Packet {
	t.Helper()
	select {
	case pkt := <-f.received:
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a packet")
	}
	return nil
}

func (f *fixture) do(method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) clientPath(suffix string) string {
	return "/api/clients/" + f.clientID.String() + suffix
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/public/ping", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["status"] != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestInfo(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/public/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["clients"] != float64(1) || body["server_id"] != f.sessions.ServerID().String() {
		t.Errorf("body = %v", body)
	}
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.Token = "s3cret" })

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic s3cret"}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/api/clients", nil, tt.header...)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// Public routes stay open.
	if rec := f.do(http.MethodGet, "/api/public/ping", nil); rec.Code != http.StatusOK {
		t.Errorf("ping status = %d", rec.Code)
	}
}

func TestListAndGetClient(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/clients", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(1) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, f.clientPath(""), nil)
	if rec.Code != http.StatusOK || decode(t, rec)["id"] != f.clientID.String() {
		t.Errorf("get = %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(http.MethodGet, "/api/clients/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/clients/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rec.Code)
	}
}

func TestSendItem(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, f.clientPath("/item"), map[string]interface{}{"name": "Cap Throw", "kind": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	item, ok := f.next(t).Payload.(*protocol.ItemPacket)
	if !ok || item.Name != "Cap Throw" || item.Kind != 1 {
		t.Errorf("client received %+v", item)
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"unknown client", "/api/clients/" + uuid.NewString() + "/shine", map[string]int{"id": 1}, http.StatusNotFound},
		{"name too long", f.clientPath("/item"), map[string]string{"name": strings.Repeat("x", protocol.ItemNameSize+1)}, http.StatusBadRequest},
		{"missing name", f.clientPath("/item"), map[string]int{"kind": 1}, http.StatusBadRequest},
		{"too many chat lines", f.clientPath("/chat"), map[string][]string{"lines": {"a", "b", "c", "d"}}, http.StatusBadRequest},
		{"stage too long", f.clientPath("/stage"), map[string]string{"stage": strings.Repeat("s", protocol.StageNameSize+1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSendShineChecks(t *testing.T) {
	f := newFixture(t, nil)

	ids := make([]int32, 25)
	for i := range ids {
		ids[i] = int32(i)
	}
	rec := f.do(http.MethodPost, f.clientPath("/shine_checks"), map[string]interface{}{"ids": ids})
	if rec.Code != http.StatusOK || decode(t, rec)["packets"] != float64(2) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	f.next(t)
	last := f.next(t).Payload.(*protocol.ShineChecksPacket)
	if got := last.IDs(); len(got) != 1 || got[0] != 24 {
		t.Errorf("second batch = %v", got)
	}
}

func TestChangeStageDefaultsScenario(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, f.clientPath("/stage"), map[string]string{"stage": "SandWorldHomeStage"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	pkt := f.next(t)
	if pkt.Header.Type != protocol.TypeChangeStage || pkt.Header.Size != protocol.ChangeStageSize {
		t.Errorf("header = %v", pkt.Header)
	}
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/broadcast/deathlink", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["clients"] != float64(1) {
		t.Fatalf("deathlink = %d %s", rec.Code, rec.Body.String())
	}
	if pkt := f.next(t); pkt.Header.Type != protocol.TypeDeathLink {
		t.Errorf("received %s", pkt.Header.Type)
	}

	if rec := f.do(http.MethodPost, "/api/broadcast/chat", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty chat status = %d", rec.Code)
	}
	rec = f.do(http.MethodPost, "/api/broadcast/chat", map[string]string{"text": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat = %d %s", rec.Code, rec.Body.String())
	}
	if pkt := f.next(t); pkt.Header.Type != protocol.TypeArchipelagoChat {
		t.Errorf("received %s", pkt.Header.Type)
	}
}

func TestGetChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.RecordCheck(ctx, f.clientID, db.KindShine, 11, "")
	f.store.RecordCheck(ctx, f.clientID, db.KindItem, 2, "Ground Pound")

	rec := f.do(http.MethodGet, f.clientPath("/checks?kind=item"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	checks := body["checks"].([]interface{})
	if len(checks) != 1 || checks[0].(map[string]interface{})["name"] != "Ground Pound" {
		t.Errorf("checks = %v", checks)
	}
	counts := body["counts"].(map[string]interface{})
	if counts["shine"] != float64(1) || counts["item"] != float64(1) {
		t.Errorf("counts = %v", counts)
	}

	if rec := f.do(http.MethodGet, f.clientPath("/checks?limit=x"), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestUpdateSlotData(t *testing.T) {
	f := newFixture(t, nil)
	// Save needs a backing file.
	loaded, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded.Server.ServerID = f.cfg.Server.ServerID
	f.server.cfg = loaded

	rec := f.do(http.MethodPatch, "/api/config/slot_data", map[string]interface{}{"clash": 5, "captures": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	sd := loaded.GetSlotData()
	if sd.Clash != 5 || !sd.Captures {
		t.Errorf("slot data = %+v", sd)
	}

	rec = f.do(http.MethodPatch, "/api/config/slot_data", map[string]interface{}{"bogus": 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d", rec.Code)
	}
}

func TestUpdateSlotDataRejectsOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded.Server.ServerID = f.cfg.Server.ServerID
	f.server.cfg = loaded
	before := loaded.GetSlotData()

	for _, body := range []map[string]interface{}{
		{"clash": 70000},
		{"raid": -1},
		{"clash": 70000, "raid": -1},
		{"captures": true, "raid": 65536},
	} {
		rec := f.do(http.MethodPatch, "/api/config/slot_data", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", body, rec.Code)
		}
	}
	if got := loaded.GetSlotData(); got != before {
		t.Errorf("slot data changed to %+v", got)
	}

	reloaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !config.Validate(reloaded).IsValid() {
		t.Error("saved config no longer validates")
	}
}

func TestGetConfigRedactsToken(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.Token = "s3cret" })
	rec := f.do(http.MethodGet, "/api/config", nil, "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Error("token leaked in config response")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.Metrics = true })
	rec := f.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "smo_connector_") {
		t.Errorf("metrics = %d", rec.Code)
	}

	f = newFixture(t, func(cfg *config.Config) { cfg.API.Metrics = false })
	if rec := f.do(http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("metrics should be off, status = %d", rec.Code)
	}
}

func TestIPWhitelist(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.IPWhitelist = []string{"10.0.0.0/8"} })

	// httptest requests come from 192.0.2.1.
	if rec := f.do(http.MethodGet, "/api/public/ping", nil); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	f = newFixture(t, func(cfg *config.Config) { cfg.API.IPWhitelist = []string{"192.0.2.1"} })
	if rec := f.do(http.MethodGet, "/api/public/ping", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.API.RateLimitRPS = 1 })

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = f.do(http.MethodGet, "/api/public/ping", nil).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

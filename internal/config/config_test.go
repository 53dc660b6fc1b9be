package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadCreatesDefaultWithServerID(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := uuid.Parse(cfg.Server.ServerID); err != nil {
		t.Fatalf("generated server id is not a UUID: %q", cfg.Server.ServerID)
	}
	if cfg.Server.Port != DefaultGamePort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, DefaultGamePort)
	}

	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("config file was not written: %v", err)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if again.Server.ServerID != cfg.Server.ServerID {
		t.Errorf("server id changed across loads: %s != %s", again.Server.ServerID, cfg.Server.ServerID)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := map[string]any{
		"server":    map[string]any{"port": 2000},
		"slot_data": map[string]any{"clash": 7, "captures": true},
	}
	data, _ := json.Marshal(partial)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 2000 {
		t.Errorf("Port = %d, want 2000", cfg.Server.Port)
	}
	if cfg.Server.MaxPlayers != 4 {
		t.Errorf("MaxPlayers default lost: %d", cfg.Server.MaxPlayers)
	}
	if sd := cfg.GetSlotData(); sd.Clash != 7 || !sd.Captures || sd.Raid != 1 {
		t.Errorf("unexpected slot data %+v", sd)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUpdateSlotField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateSlotField("raid", 9); err != nil {
		t.Fatalf("UpdateSlotField failed: %v", err)
	}
	if cfg.GetSlotData().Raid != 9 {
		t.Errorf("Raid = %d", cfg.GetSlotData().Raid)
	}
	if err := cfg.UpdateSlotField("bogus", 1); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := cfg.UpdateSlotField("regionals", "yes"); err == nil {
		t.Error("expected error for wrong value type")
	}
	if cfg.GetSlotData().Regionals {
		t.Error("failed update should leave the slot data unchanged")
	}
}

func TestUpdateSlotFieldsRange(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{"clash too large", map[string]interface{}{"clash": 70000}},
		{"raid negative", map[string]interface{}{"raid": -1}},
		{"good key with bad key", map[string]interface{}{"clash": 5, "raid": 65536}},
		{"good key with unknown key", map[string]interface{}{"captures": true, "bogus": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			before := cfg.GetSlotData()
			if _, err := cfg.UpdateSlotFields(tt.fields); err == nil {
				t.Fatal("expected error")
			}
			if got := cfg.GetSlotData(); got != before {
				t.Errorf("slot data changed to %+v", got)
			}
		})
	}

	cfg := DefaultConfig()
	got, err := cfg.UpdateSlotFields(map[string]interface{}{"clash": 65535, "raid": 0})
	if err != nil {
		t.Fatalf("UpdateSlotFields failed: %v", err)
	}
	if got.Clash != 65535 || got.Raid != 0 || cfg.GetSlotData() != got {
		t.Errorf("slot data = %+v", got)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"bad server id", func(c *Config) { c.Server.ServerID = "nope" }, "server.server_id"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero players", func(c *Config) { c.Server.MaxPlayers = 0 }, "server.max_players"},
		{"clash overflow", func(c *Config) { c.SlotData.Clash = 70000 }, "slot_data.clash"},
		{"port conflict", func(c *Config) { c.API.Port = c.Server.Port }, "api.port"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
		{"bad whitelist", func(c *Config) { c.API.IPWhitelist = []string{"not-an-ip"} }, "api.ip_whitelist"},
		{"no database", func(c *Config) { c.Database.Path = " " }, "database.path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.ServerID = uuid.NewString()
			tc.mutate(cfg)

			result := Validate(cfg)
			if result.IsValid() {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tc.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error on %s, got %v", tc.wantField, result.Errors)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Server.ServerID = uuid.NewString()
	if result := Validate(cfg); !result.IsValid() {
		t.Errorf("defaults should validate, got %v", result.Errors)
	}
}

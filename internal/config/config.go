// Package config handles configuration loading, validation, and persistence
// for the connector.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 1027
	DefaultAPIPort    = 5027
	DefaultMQTTPort   = 1883
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server      ServerConfig      `json:"server"`
	SlotData    SlotDataConfig    `json:"slot_data"`
	API         APIConfig         `json:"api"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Database    DatabaseConfig    `json:"database"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Timers      TimerConfig       `json:"timers"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig configures the game-facing TCP listener.
type ServerConfig struct {
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`

	// ServerID is stamped into the header of every packet the connector sends.
	ServerID          string `json:"server_id"`
	MaxPlayers        int    `json:"max_players"`
	HandshakeTimeout  int    `json:"handshake_timeout_sec"`
	ReadTimeout       int    `json:"read_timeout_sec"`
	StaleTimeout      int    `json:"stale_timeout_sec"`
	DeathLinkEnabled  bool   `json:"death_link_enabled"`
}

// SlotDataConfig holds the options sent to every client after it connects.
type SlotDataConfig struct {
	Clash     int  `json:"clash"`
	Raid      int  `json:"raid"`
	Regionals bool `json:"regionals"`
	Captures  bool `json:"captures"`
}

// APIConfig configures the REST control API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	ListenAddress  string   `json:"listen_address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	Metrics        bool     `json:"metrics"`

	// TLS serves HTTPS from CertFile and KeyFile. With SelfSigned, missing
	// files are generated on startup.
	TLS        bool   `json:"tls"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	SelfSigned bool   `json:"self_signed"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig locates the check ledger.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MaintenanceConfig schedules the nightly ledger cleanup.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// RunAt is the local time of day, as HH:MM.
	RunAt         string `json:"run_at"`
	RetentionDays int    `json:"retention_days"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HealthInterval    int `json:"health_interval_sec"`
	HeartbeatInterval int `json:"heartbeat_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:    "0.0.0.0",
			Port:             DefaultGamePort,
			MaxPlayers:       4,
			HandshakeTimeout: 30,
			ReadTimeout:      300,
			StaleTimeout:     600,
			DeathLinkEnabled: true,
		},
		SlotData: SlotDataConfig{
			Clash: 1,
			Raid:  1,
		},
		API: APIConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1",
			Port:          DefaultAPIPort,
			RateLimitRPS:  50,
			Metrics:       true,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        DefaultMQTTPort,
			TopicPrefix: "smo",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "checks.db"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			RunAt:         "04:00",
			RetentionDays: 90,
		},
		Timers: TimerConfig{
			HealthInterval:    30,
			HeartbeatInterval: 60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from configDir, creating it with defaults when
// missing. A missing server id is generated and persisted.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("configuration loaded")
	}

	if cfg.Server.ServerID == "" {
		cfg.Server.ServerID = uuid.NewString()
		log.Info().Str("server_id", cfg.Server.ServerID).Msg("generated server id")
	}

	// Re-save so the file always lists every option, including new defaults.
	if err := cfg.Save(); err != nil {
		if data == nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		log.Warn().Err(err).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// ServerUUID parses the configured server id.
func (c *Config) ServerUUID() (uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, err := uuid.Parse(c.Server.ServerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid server_id %q: %w", c.Server.ServerID, err)
	}
	return id, nil
}

// GetServer returns a copy of the listener configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetSlotData returns a copy of the slot options.
func (c *Config) GetSlotData() SlotDataConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SlotData
}

// SetSlotData replaces the slot options.
func (c *Config) SetSlotData(data SlotDataConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SlotData = data
}

// UpdateSlotField updates one slot option by its JSON name.
func (c *Config) UpdateSlotField(key string, value interface{}) error {
	_, err := c.UpdateSlotFields(map[string]interface{}{key: value})
	return err
}

// UpdateSlotFields applies fields by JSON name to a copy of the slot options
// and swaps it in only if every field is known and the result is in range.
// On error the current options are left untouched.
func (c *Config) UpdateSlotFields(fields map[string]interface{}) (SlotDataConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.SlotData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	for key, value := range fields {
		if _, ok := m[key]; !ok {
			return c.SlotData, fmt.Errorf("unknown slot_data field %q", key)
		}
		m[key] = value
	}

	updated, _ := json.Marshal(m)
	var next SlotDataConfig
	if err := json.Unmarshal(updated, &next); err != nil {
		return c.SlotData, fmt.Errorf("invalid slot_data value: %w", err)
	}

	result := &ValidationResult{}
	validateSlotData(&next, result)
	if !result.IsValid() {
		return c.SlotData, result.Errors[0]
	}

	c.SlotData = next
	return next, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

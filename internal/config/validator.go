package config

import (
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateServer(&cfg.Server, result)
	validateSlotData(&cfg.SlotData, result)
	validateAPI(&cfg.API, cfg.Server.Port, result)
	validateMQTT(&cfg.MQTT, result)
	validateMaintenance(&cfg.Maintenance, result)
	validateTimers(&cfg.Timers, result)

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.ListenAddress != "" && net.ParseIP(s.ListenAddress) == nil {
		result.AddError("server.listen_address", fmt.Sprintf("not an IP address: %s", s.ListenAddress))
	}
	validatePort(s.Port, "server.port", result)

	if _, err := uuid.Parse(s.ServerID); err != nil {
		result.AddError("server.server_id", fmt.Sprintf("must be a UUID: %v", err))
	}

	if s.MaxPlayers < 1 || s.MaxPlayers > math.MaxUint16 {
		result.AddError("server.max_players", fmt.Sprintf("must be 1-%d", math.MaxUint16))
	} else if s.MaxPlayers > 16 {
		result.AddWarning("server.max_players",
			fmt.Sprintf("high player count (%d), the mod is tuned for small sessions", s.MaxPlayers))
	}

	if s.HandshakeTimeout < 1 {
		result.AddError("server.handshake_timeout_sec", "handshake timeout must be at least 1 second")
	}
	if s.ReadTimeout < 10 {
		result.AddWarning("server.read_timeout_sec", "read timeout under 10s will drop idle clients quickly")
	}
	if s.StaleTimeout > 0 && s.StaleTimeout < s.ReadTimeout {
		result.AddWarning("server.stale_timeout_sec", "stale timeout is shorter than the read timeout")
	}
}

func validateSlotData(d *SlotDataConfig, result *ValidationResult) {
	if d.Clash < 0 || d.Clash > math.MaxUint16 {
		result.AddError("slot_data.clash", fmt.Sprintf("must be 0-%d", math.MaxUint16))
	}
	if d.Raid < 0 || d.Raid > math.MaxUint16 {
		result.AddError("slot_data.raid", fmt.Sprintf("must be 0-%d", math.MaxUint16))
	}
}

func validateAPI(a *APIConfig, gamePort int, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == gamePort {
		result.AddError("api.port", "port conflict: API and game listener must use different ports")
	}
	if a.Token == "" {
		result.AddWarning("api.token", "API token is empty, control endpoints are unauthenticated")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if a.TLS && (a.CertFile == "" || a.KeyFile == "") {
		result.AddError("api.cert_file", "TLS requires both cert_file and key_file")
	}
	for _, entry := range a.IPWhitelist {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				result.AddError("api.ip_whitelist", fmt.Sprintf("invalid IP or CIDR: %s", entry))
			}
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "empty topic prefix, publishing at the broker root")
	}
}

func validateMaintenance(m *MaintenanceConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if _, err := time.Parse("15:04", m.RunAt); err != nil {
		result.AddError("maintenance.run_at", fmt.Sprintf("invalid time of day %q, expected HH:MM", m.RunAt))
	}
	if m.RetentionDays < 0 {
		result.AddError("maintenance.retention_days", "retention cannot be negative")
	}
	if m.RetentionDays == 0 {
		result.AddWarning("maintenance.retention_days", "retention is 0, inactive clients are never pruned")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HealthInterval < 5 {
		result.AddWarning("timers.health_interval_sec",
			"health interval less than 5s may cause excessive work")
	}
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

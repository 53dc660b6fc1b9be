package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const setupAttempts = 3

// RunSetupWizard asks for the main connector settings on in, using the
// current values as defaults, then validates and saves cfg.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	p := prompter{r: reader, w: out}

	fmt.Fprintln(out, "── SMO Archipelago connector setup ──")
	fmt.Fprintln(out, "Press enter to keep the value in brackets.")

	for attempt := 1; ; attempt++ {
		p.askAll(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt == setupAttempts || p.eof {
			return fmt.Errorf("configuration validation failed")
		}
		fmt.Fprintln(out, "Let's try again.")
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

type prompter struct {
	r   *bufio.Reader
	w   io.Writer
	eof bool
}

func (p *prompter) askAll(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(p.w, "\n── Game listener ──")
	cfg.Server.Port = p.int("Game port", cfg.Server.Port)
	cfg.Server.MaxPlayers = p.int("Max players", cfg.Server.MaxPlayers)
	cfg.Server.DeathLinkEnabled = p.bool("Relay death links between clients", cfg.Server.DeathLinkEnabled)

	fmt.Fprintln(p.w, "\n── Slot data ──")
	cfg.SlotData.Clash = p.int("Clash", cfg.SlotData.Clash)
	cfg.SlotData.Raid = p.int("Raid", cfg.SlotData.Raid)
	cfg.SlotData.Regionals = p.bool("Regional coins are checks", cfg.SlotData.Regionals)
	cfg.SlotData.Captures = p.bool("Captures are checks", cfg.SlotData.Captures)

	fmt.Fprintln(p.w, "\n── REST API ──")
	cfg.API.Enabled = p.bool("Enable REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = p.int("API port", cfg.API.Port)
		token := cfg.API.Token
		if token == "" {
			token = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		cfg.API.Token = p.string("API token", token)
	}

	fmt.Fprintln(p.w, "\n── MQTT telemetry ──")
	cfg.MQTT.Enabled = p.bool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = p.string("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = p.int("Broker port", cfg.MQTT.Port)
	}
}

func (p *prompter) read() string {
	input, err := p.r.ReadString('\n')
	if err != nil {
		p.eof = true
	}
	return strings.TrimSpace(input)
}

func (p *prompter) string(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.w, "  %s: ", prompt)
	}
	if input := p.read(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.w, "  %s [%d]: ", prompt, defaultVal)
	input := p.read()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.w, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.read())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}

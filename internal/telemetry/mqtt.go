// Package telemetry publishes connector events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicClientStatus = "client/status"
	TopicClientChecks = "client/checks"
	TopicDeathLink    = "deathlink"
	TopicAdmin        = "admin"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// topics maps each published event to its topic suffix.
var topics = map[events.EventType]string{
	events.EventClientConnected:    TopicClientStatus,
	events.EventClientDisconnected: TopicClientStatus,
	events.EventShineCollected:     TopicClientChecks,
	events.EventItemCollected:      TopicClientChecks,
	events.EventFillerCollected:    TopicClientChecks,
	events.EventProgressChanged:    TopicClientChecks,
	events.EventDeathLink:          TopicDeathLink,
	events.EventHeartbeat:          TopicAdmin,
	events.EventConfigChanged:      TopicAdmin,
}

// MQTTHandler publishes bus events as JSON with host metadata attached.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler and configures, but does not connect,
// the MQTT client.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": util.Version,
		"server_id":   cfg.GetServer().ServerID,
	}

	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := loadTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func loadTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// mTLS
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker and publishes events until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for t := range topics {
		h.eventBus.Subscribe(t, "mqtt."+string(t), h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for t := range topics {
		h.eventBus.Unsubscribe(t, "mqtt."+string(t))
	}
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	suffix, ok := topics[event.Type]
	if !ok {
		return nil
	}
	h.publish(h.Topic(suffix), map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// Topic joins the configured prefix and a topic suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	prefix := strings.Trim(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message at QoS 1. It is a no-op while disconnected.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that the connector is stopping.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), map[string]interface{}{
		"event": string(events.EventShutdown),
	})
}

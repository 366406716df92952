package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	commandTimeout = 30 * time.Second
)

// Heater is the device surface the bridge needs. *goagua.Device satisfies
// it; tests substitute a fake.
type Heater interface {
	IDDevice() string
	Name() string
	ProductName() string
	ProductSerial() string
	IsOnline() bool
	Update(ctx context.Context) error

	AirTemperature() (float64, error)
	TargetTemperature() (float64, error)
	GasTemperature() (float64, error)
	RealPower() (int, error)
	PowerLevel() (int, error)
	StatusCode() (int, error)
	Status() (string, error)
	AlarmCode() (int, error)
	MinTargetTemperature() (float64, error)
	MaxTargetTemperature() (float64, error)

	SetTargetTemperature(ctx context.Context, value float64) error
	SetPowerLevel(ctx context.Context, level int) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// publisher abstracts the outbound half of the MQTT client so state and
// discovery publishing can be tested without a broker.
type publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

type pahoPublisher struct {
	client mqtt.Client
	qos    byte
}

func (p *pahoPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Bridge mirrors a set of heaters onto an MQTT broker and relays climate
// commands back to them.
type Bridge struct {
	cfg     *Config
	logger  *slog.Logger
	heaters []Heater
	client  mqtt.Client
	pub     publisher
	metrics *metrics
}

func New(cfg *Config, logger *slog.Logger, heaters []Heater) *Bridge {
	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		heaters: heaters,
		metrics: newMetrics(),
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.MQTT.TopicPrefix + "/bridge/availability"
}

func (b *Bridge) stateTopic(idDevice string) string {
	return b.cfg.MQTT.TopicPrefix + "/" + idDevice + "/state"
}

func (b *Bridge) commandTopic(idDevice, kind string) string {
	return b.cfg.MQTT.TopicPrefix + "/" + idDevice + "/set/" + kind
}

// Run connects to the broker, announces the heaters for discovery and
// polls them until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.MQTT.Broker).
		SetClientID(b.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetWill(b.availabilityTopic(), payloadOffline, byte(b.cfg.MQTT.QoS), true)
	if b.cfg.MQTT.Username != "" {
		opts.SetUsername(b.cfg.MQTT.Username)
		opts.SetPassword(b.cfg.MQTT.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker %s: %w", b.cfg.MQTT.Broker, token.Error())
	}
	b.client = client
	b.pub = &pahoPublisher{client: client, qos: byte(b.cfg.MQTT.QoS)}
	defer client.Disconnect(250)
	b.logger.Info("connected to MQTT broker", "broker", b.cfg.MQTT.Broker)

	if err := b.pub.Publish(b.availabilityTopic(), true, []byte(payloadOnline)); err != nil {
		return fmt.Errorf("publishing availability: %w", err)
	}
	if err := b.announceAll(); err != nil {
		return err
	}

	commandFilter := b.cfg.MQTT.TopicPrefix + "/+/set/+"
	if token := client.Subscribe(commandFilter, byte(b.cfg.MQTT.QoS), b.handleCommand); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", commandFilter, token.Error())
	}

	if b.cfg.Metrics.Enabled {
		go b.metrics.serve(ctx, b.cfg.Metrics.Listen, b.logger)
	}

	b.pollAll(ctx)
	ticker := time.NewTicker(b.cfg.Agua.PollDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = b.pub.Publish(b.availabilityTopic(), true, []byte(payloadOffline))
			return nil
		case <-ticker.C:
			b.pollAll(ctx)
		}
	}
}

// pollAll refreshes every heater and publishes its state. One failing
// heater does not stop the others.
func (b *Bridge) pollAll(ctx context.Context) {
	for _, h := range b.heaters {
		b.metrics.updates.Inc()
		if err := h.Update(ctx); err != nil {
			b.metrics.updateErrors.Inc()
			b.logger.Warn("device update failed", "device", h.Name(), "error", err)
			continue
		}
		b.metrics.observe(h)
		if err := b.publishState(h); err != nil {
			b.logger.Warn("publishing state failed", "device", h.Name(), "error", err)
		}
	}
}

// statePayload is the JSON document published on the device state topic.
// Values a device cannot provide are simply omitted.
type statePayload struct {
	AirTemperature    *float64 `json:"air_temperature,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
	GasTemperature    *float64 `json:"gas_temperature,omitempty"`
	RealPower         *int     `json:"real_power,omitempty"`
	PowerLevel        *int     `json:"power_level,omitempty"`
	Status            string   `json:"status,omitempty"`
	AlarmCode         *int     `json:"alarm_code,omitempty"`
	Mode              string   `json:"mode"`
	Action            string   `json:"action"`
}

func floatField(v float64, err error) *float64 {
	if err != nil {
		return nil
	}
	return &v
}

func intField(v int, err error) *int {
	if err != nil {
		return nil
	}
	return &v
}

func buildStatePayload(h Heater) statePayload {
	p := statePayload{
		AirTemperature:    floatField(h.AirTemperature()),
		TargetTemperature: floatField(h.TargetTemperature()),
		GasTemperature:    floatField(h.GasTemperature()),
		RealPower:         intField(h.RealPower()),
		PowerLevel:        intField(h.PowerLevel()),
		AlarmCode:         intField(h.AlarmCode()),
		Mode:              "off",
		Action:            "off",
	}
	if status, err := h.Status(); err == nil {
		p.Status = status
	}

	code, err := h.StatusCode()
	if err != nil {
		return p
	}
	switch {
	case code == 0:
		p.Mode, p.Action = "off", "off"
	case code >= 1 && code <= 5:
		p.Mode, p.Action = "heat", "heating"
	default:
		p.Mode, p.Action = "heat", "idle"
	}
	return p
}

func (b *Bridge) publishState(h Heater) error {
	payload, err := json.Marshal(buildStatePayload(h))
	if err != nil {
		return err
	}
	return b.pub.Publish(b.stateTopic(h.IDDevice()), true, payload)
}

func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	idDevice, kind, ok := parseCommandTopic(b.cfg.MQTT.TopicPrefix, msg.Topic())
	if !ok {
		b.logger.Warn("ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}
	var heater Heater
	for _, h := range b.heaters {
		if h.IDDevice() == idDevice {
			heater = h
			break
		}
	}
	if heater == nil {
		b.logger.Warn("command for unknown device", "device", idDevice)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	payload := string(msg.Payload())
	if err := applyCommand(ctx, heater, kind, payload); err != nil {
		b.logger.Error("command failed",
			"device", heater.Name(), "command", kind, "payload", payload, "error", err)
		return
	}
	b.logger.Info("command applied", "device", heater.Name(), "command", kind, "payload", payload)

	if err := heater.Update(ctx); err != nil {
		b.logger.Warn("refresh after command failed", "device", heater.Name(), "error", err)
		return
	}
	if err := b.publishState(heater); err != nil {
		b.logger.Warn("publishing state failed", "device", heater.Name(), "error", err)
	}
}

func parseCommandTopic(prefix, topic string) (idDevice, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// applyCommand translates one MQTT command payload into a device write.
func applyCommand(ctx context.Context, h Heater, kind, payload string) error {
	switch kind {
	case "temperature":
		value, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return fmt.Errorf("temperature payload %q is not a number", payload)
		}
		return h.SetTargetTemperature(ctx, value)
	case "power":
		level, err := strconv.Atoi(strings.TrimSpace(payload))
		if err != nil {
			return fmt.Errorf("power payload %q is not an integer", payload)
		}
		return h.SetPowerLevel(ctx, level)
	case "mode":
		switch strings.TrimSpace(payload) {
		case "heat":
			return h.TurnOn(ctx)
		case "off":
			return h.TurnOff(ctx)
		default:
			return fmt.Errorf("unsupported mode %q", payload)
		}
	default:
		return fmt.Errorf("unsupported command %q", kind)
	}
}

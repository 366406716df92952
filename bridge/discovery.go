package bridge

import (
	"encoding/json"
	"fmt"
)

// discoveryDevice groups the bridge's entities under one device entry in
// Home Assistant's registry.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
}

// discoveryPayload is a Home Assistant MQTT climate discovery document.
type discoveryPayload struct {
	Name     string   `json:"name"`
	UniqueID string   `json:"unique_id"`
	Modes    []string `json:"modes"`
	FanModes []string `json:"fan_modes"`

	ModeStateTopic             string `json:"mode_state_topic"`
	ModeStateTemplate          string `json:"mode_state_template"`
	ModeCommandTopic           string `json:"mode_command_topic"`
	TemperatureStateTopic      string `json:"temperature_state_topic"`
	TemperatureStateTemplate   string `json:"temperature_state_template"`
	TemperatureCommandTopic    string `json:"temperature_command_topic"`
	CurrentTemperatureTopic    string `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string `json:"current_temperature_template"`
	FanModeStateTopic          string `json:"fan_mode_state_topic"`
	FanModeStateTemplate       string `json:"fan_mode_state_template"`
	FanModeCommandTopic        string `json:"fan_mode_command_topic"`
	ActionTopic                string `json:"action_topic"`
	ActionTemplate             string `json:"action_template"`
	AvailabilityTopic          string `json:"availability_topic"`

	MinTemp   float64 `json:"min_temp,omitempty"`
	MaxTemp   float64 `json:"max_temp,omitempty"`
	TempStep  float64 `json:"temp_step"`
	Precision float64 `json:"precision"`

	Device discoveryDevice `json:"device"`
}

func (b *Bridge) discoveryTopic(idDevice string) string {
	return fmt.Sprintf("%s/climate/agua_%s/config", b.cfg.MQTT.DiscoveryPrefix, idDevice)
}

func (b *Bridge) buildDiscovery(h Heater) discoveryPayload {
	id := h.IDDevice()
	state := b.stateTopic(id)

	p := discoveryPayload{
		Name:     h.Name(),
		UniqueID: "agua_" + id,
		Modes:    []string{"heat", "off"},
		FanModes: []string{"1", "2", "3", "4", "5"},

		ModeStateTopic:             state,
		ModeStateTemplate:          "{{ value_json.mode }}",
		ModeCommandTopic:           b.commandTopic(id, "mode"),
		TemperatureStateTopic:      state,
		TemperatureStateTemplate:   "{{ value_json.target_temperature }}",
		TemperatureCommandTopic:    b.commandTopic(id, "temperature"),
		CurrentTemperatureTopic:    state,
		CurrentTemperatureTemplate: "{{ value_json.air_temperature }}",
		FanModeStateTopic:          state,
		FanModeStateTemplate:       "{{ value_json.power_level }}",
		FanModeCommandTopic:        b.commandTopic(id, "power"),
		ActionTopic:                state,
		ActionTemplate:             "{{ value_json.action }}",
		AvailabilityTopic:          b.availabilityTopic(),

		TempStep:  0.5,
		Precision: 0.5,

		Device: discoveryDevice{
			Identifiers:  []string{"agua_" + id},
			Name:         h.Name(),
			Model:        h.ProductName(),
			Manufacturer: "Micronova",
		},
	}
	if min, err := h.MinTargetTemperature(); err == nil {
		p.MinTemp = min
	}
	if max, err := h.MaxTargetTemperature(); err == nil {
		p.MaxTemp = max
	}
	return p
}

func (b *Bridge) announceAll() error {
	for _, h := range b.heaters {
		payload, err := json.Marshal(b.buildDiscovery(h))
		if err != nil {
			return err
		}
		if err := b.pub.Publish(b.discoveryTopic(h.IDDevice()), true, payload); err != nil {
			return fmt.Errorf("announcing %s: %w", h.Name(), err)
		}
		b.logger.Info("announced device", "device", h.Name(), "topic", b.discoveryTopic(h.IDDevice()))
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mgrantham/solarexportctl/config"
	"github.com/mgrantham/solarexportctl/governor"
)

const (
	payloadTrue  = "1"
	payloadFalse = "0"
)

func boolPayload(b bool) string {
	if b {
		return payloadTrue
	}
	return payloadFalse
}

func floatPayload(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

// joinTopic strips slashes from each segment and joins with "/".
func joinTopic(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// MetaSurface derives the agent's meta topic names under a configurable
// prefix, provides payload codecs, and builds Home Assistant discovery
// messages. It never owns broker state itself; publishing is delegated to
// the BrokerSession it is constructed with.
type MetaSurface struct {
	cfg    config.MetaControlConfig
	broker Broker

	topicCmdEnabled     string
	topicStatusOnline   string
	topicStatusEnabled  string
	topicStatusInverter string
	topicStatusActive   string
	topicTelePower      string
	topicTeleSample     string
	topicTeleOvershoot  string
	topicTeleLimit      string
	topicTeleCommand    string
	topicTeleMinMax     [2]string
	topicTeleThrottle   string

	rollingMinMax      *governor.RollingMinMax
	throttleHysteresis *governor.SteppedHysteresis
}

// NewMetaSurface derives topics for cfg.Prefix and wires the additive debug
// telemetry trackers when enabled.
func NewMetaSurface(cfg config.MetaControlConfig, broker Broker, throttleSeconds int) *MetaSurface {
	m := &MetaSurface{
		cfg:    cfg,
		broker: broker,

		topicCmdEnabled:     joinTopic(cfg.Prefix, "cmd/enabled"),
		topicStatusOnline:   joinTopic(cfg.Prefix, "status/online"),
		topicStatusEnabled:  joinTopic(cfg.Prefix, "status/enabled"),
		topicStatusInverter: joinTopic(cfg.Prefix, "status/inverter"),
		topicStatusActive:   joinTopic(cfg.Prefix, "status/active"),
		topicTelePower:      joinTopic(cfg.Prefix, "tele/power"),
		topicTeleSample:     joinTopic(cfg.Prefix, "tele/sample"),
		topicTeleOvershoot:  joinTopic(cfg.Prefix, "tele/overshoot"),
		topicTeleLimit:      joinTopic(cfg.Prefix, "tele/limit"),
		topicTeleCommand:    joinTopic(cfg.Prefix, "tele/command"),
		topicTeleMinMax: [2]string{
			joinTopic(cfg.Prefix, "tele/sample_min_1h"),
			joinTopic(cfg.Prefix, "tele/sample_max_1h"),
		},
		topicTeleThrottle: joinTopic(cfg.Prefix, "tele/throttle_step"),
	}

	if cfg.Telemetry.RollingMinMax {
		r := governor.NewRollingMinMax()
		m.rollingMinMax = &r
	}
	if cfg.Telemetry.ThrottleStep {
		// 4-step ascending gauge over [0, throttleSeconds]: how close the
		// elapsed-since-last-command time is to releasing the throttle.
		half := float64(throttleSeconds) / 2
		m.throttleHysteresis = governor.NewSteppedHysteresis(4, true, 0, float64(throttleSeconds), half, 0)
	}

	return m
}

// WillTopicPayload returns the last-will topic and payload to install
// before every connect attempt.
func (m *MetaSurface) WillTopicPayload() (topic, payload string) {
	return m.topicStatusOnline, payloadFalse
}

func (m *MetaSurface) TopicCmdEnabled() string { return m.topicCmdEnabled }

func (m *MetaSurface) PublishStatusOnline(online bool) {
	m.broker.Publish(m.topicStatusOnline, boolPayload(online), 0, true)
}

func (m *MetaSurface) PublishStatusEnabled(enabled bool) {
	m.broker.Publish(m.topicStatusEnabled, boolPayload(enabled), 0, false)
}

func (m *MetaSurface) PublishStatusInverter(status bool) {
	m.broker.Publish(m.topicStatusInverter, boolPayload(status), 0, false)
}

func (m *MetaSurface) PublishStatusActive(active bool) {
	m.broker.Publish(m.topicStatusActive, boolPayload(active), 0, false)
}

// PublishTelemetry publishes every tele/* stream enabled in config for one
// Result, plus the additive debug telemetry when enabled.
func (m *MetaSurface) PublishTelemetry(r Result) {
	if m.cfg.Telemetry.Power {
		m.broker.Publish(m.topicTelePower, floatPayload(r.Reading), 0, false)
	}
	if m.cfg.Telemetry.Sample {
		m.broker.Publish(m.topicTeleSample, floatPayload(r.Sample), 0, false)
	}
	if m.cfg.Telemetry.Overshoot {
		m.broker.Publish(m.topicTeleOvershoot, floatPayload(r.Overshoot), 0, false)
	}
	if m.cfg.Telemetry.Limit {
		m.broker.Publish(m.topicTeleLimit, floatPayload(r.Limit), 0, false)
	}

	if m.rollingMinMax != nil {
		m.rollingMinMax.Update(r.Sample)
		m.broker.Publish(m.topicTeleMinMax[0], floatPayload(m.rollingMinMax.Min()), 0, false)
		m.broker.Publish(m.topicTeleMinMax[1], floatPayload(m.rollingMinMax.Max()), 0, false)
	}
	if m.throttleHysteresis != nil {
		step := m.throttleHysteresis.Update(r.Elapsed.Seconds())
		m.broker.Publish(m.topicTeleThrottle, fmt.Sprintf("%d", step), 0, false)
	}
}

// PublishCommandTelemetry publishes the tele/command mirror.
func (m *MetaSurface) PublishCommandTelemetry(command float64) {
	if m.cfg.Telemetry.Command {
		m.broker.Publish(m.topicTeleCommand, floatPayload(command), 0, false)
	}
}

// haDevice mirrors the device descriptor shared by every discovery entry.
type haDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"ids"`
	Manufacturer string   `json:"mf"`
}

// haAvailability is one entry in a discovery entity's availability list.
type haAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

// haSensorConfig is the discovery payload for a telemetry sensor.
type haSensorConfig struct {
	Name              string           `json:"name"`
	StateTopic        string           `json:"state_topic"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	UniqueID          string           `json:"unique_id"`
	DeviceClass       string           `json:"device_class,omitempty"`
	StateClass        string           `json:"state_class,omitempty"`
	Icon              string           `json:"icon,omitempty"`
	Device            haDevice         `json:"device"`
	AvailabilityMode  string           `json:"availability_mode"`
	Availability      []haAvailability `json:"availability"`
}

// haBinarySensorConfig is the discovery payload for a status bit.
type haBinarySensorConfig struct {
	Name         string           `json:"name"`
	StateTopic   string           `json:"state_topic"`
	PayloadOn    string           `json:"payload_on"`
	PayloadOff   string           `json:"payload_off"`
	UniqueID     string           `json:"unique_id"`
	Device       haDevice         `json:"device"`
	Availability []haAvailability `json:"availability"`
}

// haSwitchConfig is the discovery payload for the enable/disable switch.
type haSwitchConfig struct {
	Name         string           `json:"name"`
	StateTopic   string           `json:"state_topic"`
	CommandTopic string           `json:"command_topic"`
	PayloadOn    string           `json:"payload_on"`
	PayloadOff   string           `json:"payload_off"`
	UniqueID     string           `json:"unique_id"`
	Device       haDevice         `json:"device"`
	Availability []haAvailability `json:"availability"`
}

func (m *MetaSurface) device() haDevice {
	return haDevice{
		Name:         m.cfg.Discovery.Name,
		Identifiers:  []string{fmt.Sprintf("%d", m.cfg.Discovery.ID)},
		Manufacturer: "Solar Export Control",
	}
}

func (m *MetaSurface) availabilityOnline() []haAvailability {
	return []haAvailability{
		{Topic: m.topicStatusOnline, PayloadAvailable: payloadTrue, PayloadNotAvailable: payloadFalse},
	}
}

func (m *MetaSurface) availabilityOnlineAndActive() []haAvailability {
	return []haAvailability{
		{Topic: m.topicStatusOnline, PayloadAvailable: payloadTrue, PayloadNotAvailable: payloadFalse},
		{Topic: m.topicStatusActive, PayloadAvailable: payloadTrue, PayloadNotAvailable: payloadFalse},
	}
}

func (m *MetaSurface) uniqueID(role string) string {
	return fmt.Sprintf("sec_%d_%s", m.cfg.Discovery.ID, role)
}

func (m *MetaSurface) discoveryTopic(component, role string) string {
	return joinTopic(m.cfg.Discovery.Prefix, component, fmt.Sprintf("sec_%d", m.cfg.Discovery.ID), role, "config")
}

// sensorEntry describes one telemetry sensor discovery entity.
type sensorEntry struct {
	role    string
	enabled bool
	topic   string
	name    string
	unit    string
	class   string
	icon    string
}

func (m *MetaSurface) sensorEntries() []sensorEntry {
	return []sensorEntry{
		{"tele_power", m.cfg.Telemetry.Power, m.topicTelePower, m.cfg.Discovery.Name + " Power", "W", "power", "mdi:power-plug"},
		{"tele_sample", m.cfg.Telemetry.Sample, m.topicTeleSample, m.cfg.Discovery.Name + " Sample", "W", "power", "mdi:chart-line"},
		{"tele_overshoot", m.cfg.Telemetry.Overshoot, m.topicTeleOvershoot, m.cfg.Discovery.Name + " Overshoot", "W", "power", "mdi:alert"},
		{"tele_limit", m.cfg.Telemetry.Limit, m.topicTeleLimit, m.cfg.Discovery.Name + " Limit", "W", "power", "mdi:speedometer"},
		{"tele_command", m.cfg.Telemetry.Command, m.topicTeleCommand, m.cfg.Discovery.Name + " Command", "", "", "mdi:send"},
	}
}

// PublishDiscovery publishes the fixed family of discovery messages once,
// after the first transition into active. Disabled telemetry streams
// publish an empty retained payload to remove any stale entity.
func (m *MetaSurface) PublishDiscovery() {
	if !m.cfg.Discovery.Enabled {
		return
	}

	for _, entry := range m.sensorEntries() {
		topic := m.discoveryTopic("sensor", entry.role)
		if !entry.enabled {
			m.broker.Publish(topic, "", 0, true)
			continue
		}

		payload := haSensorConfig{
			Name:              entry.name,
			StateTopic:        entry.topic,
			UnitOfMeasurement: entry.unit,
			UniqueID:          m.uniqueID(entry.role),
			DeviceClass:       entry.class,
			StateClass:        "measurement",
			Icon:              entry.icon,
			Device:            m.device(),
			AvailabilityMode:  "all",
			Availability:      m.availabilityOnlineAndActive(),
		}
		m.publishDiscoveryJSON(topic, payload)
	}

	for _, bs := range []struct {
		role, topic, name string
	}{
		{"status_enabled", m.topicStatusEnabled, m.cfg.Discovery.Name + " Enabled"},
		{"status_inverter", m.topicStatusInverter, m.cfg.Discovery.Name + " Inverter"},
		{"status_active", m.topicStatusActive, m.cfg.Discovery.Name + " Active"},
	} {
		payload := haBinarySensorConfig{
			Name:         bs.name,
			StateTopic:   bs.topic,
			PayloadOn:    payloadTrue,
			PayloadOff:   payloadFalse,
			UniqueID:     m.uniqueID(bs.role),
			Device:       m.device(),
			Availability: m.availabilityOnline(),
		}
		m.publishDiscoveryJSON(m.discoveryTopic("binary_sensor", bs.role), payload)
	}

	switchPayload := haSwitchConfig{
		Name:         m.cfg.Discovery.Name + " Enabled",
		StateTopic:   m.topicStatusEnabled,
		CommandTopic: m.topicCmdEnabled,
		PayloadOn:    payloadTrue,
		PayloadOff:   payloadFalse,
		UniqueID:     m.uniqueID("switch_enabled"),
		Device:       m.device(),
		Availability: m.availabilityOnline(),
	}
	m.publishDiscoveryJSON(m.discoveryTopic("switch", "switch_enabled"), switchPayload)
}

func (m *MetaSurface) publishDiscoveryJSON(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.broker.Publish(topic, string(data), 0, true)
}

// Package config loads and validates the JSON configuration file describing
// broker connection, command shaping, reading smoothing, and meta-control
// surfaces for the agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CommandType selects how a limit is mapped onto the published command.
type CommandType int

const (
	CommandAbsolute CommandType = iota + 1
	CommandRelative
)

// SmoothingType selects how raw readings are turned into samples.
type SmoothingType int

const (
	SmoothingNone SmoothingType = iota + 1
	SmoothingAvg
	SmoothingRamp
)

// RampConfig tunes the Pressure-Gated Accelerating Ramp smoother, used only
// when ReadingConfig.Smoothing == SmoothingRamp.
type RampConfig struct {
	ThresholdSeconds      float64 `json:"thresholdSeconds"`
	PressureCapSeconds    float64 `json:"pressureCapSeconds"`
	RateAccel             float64 `json:"rateAccel"`
	DecayMultiplier       float64 `json:"decayMultiplier"`
	FullPressureDiff      float64 `json:"fullPressureDiff"`
	Damping               float64 `json:"damping"`
	PressureReleaseFactor float64 `json:"pressureReleaseFactor"`
}

// CommandConfig mirrors the Python original's CommandConfig.
type CommandConfig struct {
	Target     int
	MinPower   float64
	MaxPower   float64
	Type       CommandType
	Throttle   int // seconds
	Hysteresis float64
	Retransmit int // seconds
}

func (c *CommandConfig) fromJSON(m map[string]any) error {
	minPower, ok := jsonFloat(m["minPower"])
	if !ok {
		return fmt.Errorf("CommandConfig: invalid minPower: %v", m["minPower"])
	}
	maxPower, ok := jsonFloat(m["maxPower"])
	if !ok {
		return fmt.Errorf("CommandConfig: invalid maxPower: %v", m["maxPower"])
	}
	if minPower >= maxPower {
		return fmt.Errorf("CommandConfig: minPower greater or equal maxPower")
	}

	target, ok := jsonInt(m["target"])
	if !ok {
		return fmt.Errorf("CommandConfig: invalid target: %v", m["target"])
	}

	var cmdType CommandType
	switch m["type"] {
	case "absolute":
		cmdType = CommandAbsolute
	case "relative":
		cmdType = CommandRelative
	default:
		return fmt.Errorf("CommandConfig: invalid type: %v", m["type"])
	}

	throttle, ok := jsonInt(m["throttle"])
	if !ok || throttle < 0 {
		return fmt.Errorf("CommandConfig: invalid throttle: %v", m["throttle"])
	}

	hysteresis, ok := jsonFloat(m["hysteresis"])
	if !ok || hysteresis < 0 {
		return fmt.Errorf("CommandConfig: invalid hysteresis: %v", m["hysteresis"])
	}

	retransmit, ok := jsonInt(m["retransmit"])
	if !ok || retransmit < 0 {
		return fmt.Errorf("CommandConfig: invalid retransmit: %v", m["retransmit"])
	}

	c.Target = target
	c.MinPower = minPower
	c.MaxPower = maxPower
	c.Type = cmdType
	c.Throttle = throttle
	c.Hysteresis = hysteresis
	c.Retransmit = retransmit
	return nil
}

// ReadingConfig mirrors the Python original's ReadingConfig, plus the
// additive RAMP smoothing mode.
type ReadingConfig struct {
	Smoothing           SmoothingType
	SmoothingSampleSize int
	Offset              float64
	Ramp                RampConfig
}

func (r *ReadingConfig) fromJSON(m map[string]any) error {
	r.Smoothing = SmoothingNone
	switch m["smoothing"] {
	case "avg":
		r.Smoothing = SmoothingAvg
	case "ramp":
		r.Smoothing = SmoothingRamp
	}

	r.SmoothingSampleSize = 0
	if n, ok := jsonInt(m["smoothingSampleSize"]); ok && n >= 0 {
		r.SmoothingSampleSize = n
	}

	r.Offset = 0
	if f, ok := jsonFloat(m["offset"]); ok {
		r.Offset = f
	}

	r.Ramp = defaultRampConfig()
	if rj, ok := m["ramp"].(map[string]any); ok {
		if f, ok := jsonFloat(rj["thresholdSeconds"]); ok {
			r.Ramp.ThresholdSeconds = f
		}
		if f, ok := jsonFloat(rj["pressureCapSeconds"]); ok {
			r.Ramp.PressureCapSeconds = f
		}
		if f, ok := jsonFloat(rj["rateAccel"]); ok {
			r.Ramp.RateAccel = f
		}
		if f, ok := jsonFloat(rj["decayMultiplier"]); ok {
			r.Ramp.DecayMultiplier = f
		}
		if f, ok := jsonFloat(rj["fullPressureDiff"]); ok {
			r.Ramp.FullPressureDiff = f
		}
		if f, ok := jsonFloat(rj["damping"]); ok {
			r.Ramp.Damping = f
		}
		if f, ok := jsonFloat(rj["pressureReleaseFactor"]); ok {
			r.Ramp.PressureReleaseFactor = f
		}
	}

	return nil
}

func defaultRampConfig() RampConfig {
	return RampConfig{
		ThresholdSeconds:      600.0,
		PressureCapSeconds:    660.0,
		RateAccel:             100.0 / (60.0 * 60.0),
		DecayMultiplier:       2.0,
		Damping:               0.5,
		PressureReleaseFactor: 0.05,
	}
}

// MetaTelemetryConfig selects which derived values publish telemetry, plus
// the additive debug streams.
type MetaTelemetryConfig struct {
	Power     bool
	Sample    bool
	Overshoot bool
	Limit     bool
	Command   bool

	RollingMinMax bool
	ThrottleStep  bool
}

func (t *MetaTelemetryConfig) fromJSON(m map[string]any) error {
	fields := map[string]*bool{
		"power":     &t.Power,
		"sample":    &t.Sample,
		"overshoot": &t.Overshoot,
		"limit":     &t.Limit,
		"command":   &t.Command,
	}
	for name, dst := range fields {
		b, ok := m[name].(bool)
		if !ok {
			return fmt.Errorf("MetaTelemetryConfig: invalid %s: %v", name, m[name])
		}
		*dst = b
	}

	if b, ok := m["rollingMinMax"].(bool); ok {
		t.RollingMinMax = b
	}
	if b, ok := m["throttleStep"].(bool); ok {
		t.ThrottleStep = b
	}
	return nil
}

// HADiscoveryConfig mirrors the Python original's HA_DiscoveryConfig.
type HADiscoveryConfig struct {
	Enabled bool
	Prefix  string
	ID      int
	Name    string
}

func (d *HADiscoveryConfig) fromJSON(m map[string]any) error {
	enabled, ok := m["enabled"].(bool)
	if !ok {
		return fmt.Errorf("HADiscoveryConfig: invalid enabled: %v", m["enabled"])
	}
	prefix, ok := m["discoveryPrefix"].(string)
	if !ok {
		return fmt.Errorf("HADiscoveryConfig: invalid discoveryPrefix: %v", m["discoveryPrefix"])
	}
	id, ok := jsonInt(m["id"])
	if !ok {
		return fmt.Errorf("HADiscoveryConfig: invalid id: %v", m["id"])
	}
	name, ok := m["name"].(string)
	if !ok {
		return fmt.Errorf("HADiscoveryConfig: invalid name: %v", m["name"])
	}

	d.Enabled = enabled
	d.Prefix = prefix
	d.ID = id
	d.Name = name
	return nil
}

// MetaControlConfig mirrors the Python original's MetaControlConfig.
type MetaControlConfig struct {
	Prefix                  string
	ResetInverterOnInactive bool
	Telemetry               MetaTelemetryConfig
	Discovery               HADiscoveryConfig
}

func (c *MetaControlConfig) fromJSON(m map[string]any) error {
	reset, ok := m["resetInverterLimitOnInactive"].(bool)
	if !ok {
		return fmt.Errorf("MetaControlConfig: invalid resetInverterLimitOnInactive: %v", m["resetInverterLimitOnInactive"])
	}

	prefix, ok := m["prefix"].(string)
	if !ok || prefix == "" {
		return fmt.Errorf("MetaControlConfig: invalid prefix: %v", m["prefix"])
	}
	if strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("MetaControlConfig: prefix cannot start with slash: %q", prefix)
	}

	telemetryMap, ok := m["telemetry"].(map[string]any)
	if !ok {
		return fmt.Errorf("MetaControlConfig: invalid telemetry: %v", m["telemetry"])
	}
	var telemetry MetaTelemetryConfig
	if err := telemetry.fromJSON(telemetryMap); err != nil {
		return err
	}

	discoveryMap, ok := m["homeAssistantDiscovery"].(map[string]any)
	if !ok {
		return fmt.Errorf("MetaControlConfig: invalid homeAssistantDiscovery: %v", m["homeAssistantDiscovery"])
	}
	var discovery HADiscoveryConfig
	if err := discovery.fromJSON(discoveryMap); err != nil {
		return err
	}

	c.Prefix = prefix
	c.ResetInverterOnInactive = reset
	c.Telemetry = telemetry
	c.Discovery = discovery
	return nil
}

// MqttTopicConfig mirrors the Python original's MqttTopicConfig.
type MqttTopicConfig struct {
	ReadPower      string
	WriteCommand   string
	InverterStatus string
}

func (t *MqttTopicConfig) fromJSON(m map[string]any) error {
	readPower, ok := m["readPower"].(string)
	if !ok || readPower == "" {
		return fmt.Errorf("MqttTopicConfig: invalid readPower: %v", m["readPower"])
	}
	t.ReadPower = readPower

	if s, ok := m["writeCommand"].(string); ok && s != "" {
		t.WriteCommand = s
	}
	if s, ok := m["inverterStatus"].(string); ok && s != "" {
		t.InverterStatus = s
	}
	return nil
}

// MqttAuthConfig mirrors the Python original's MqttAuthConfig.
type MqttAuthConfig struct {
	Username string
	Password string
}

// BrokerConfig mirrors the Python original's MqttConfig.
type BrokerConfig struct {
	Host      string
	Port      int
	Keepalive int
	ClientID  string
	Retain    bool
	Topics    MqttTopicConfig
	Auth      *MqttAuthConfig
}

func (b *BrokerConfig) fromJSON(m map[string]any) error {
	host, ok := m["host"].(string)
	if !ok || host == "" {
		return fmt.Errorf("BrokerConfig: invalid host: %v", m["host"])
	}

	port := 1883
	if n, ok := jsonInt(m["port"]); ok && n > 0 {
		port = n
	}

	keepalive := 60
	if n, ok := jsonInt(m["keepalive"]); ok && n > 0 {
		keepalive = n
	}

	clientID := "solar-export-control"
	if s, ok := m["clientId"].(string); ok && s != "" {
		clientID = s
	}

	retain := false
	if r, ok := m["retain"].(bool); ok {
		retain = r
	}

	topicsMap, ok := m["topics"].(map[string]any)
	if !ok {
		return fmt.Errorf("BrokerConfig: invalid topics: %v", m["topics"])
	}
	var topics MqttTopicConfig
	if err := topics.fromJSON(topicsMap); err != nil {
		return err
	}

	var auth *MqttAuthConfig
	if authMap, ok := m["auth"].(map[string]any); ok {
		if username, ok := authMap["username"].(string); ok && username != "" {
			password, _ := authMap["password"].(string)
			auth = &MqttAuthConfig{Username: username, Password: password}
		}
	}

	b.Host = host
	b.Port = port
	b.Keepalive = keepalive
	b.ClientID = clientID
	b.Retain = retain
	b.Topics = topics
	b.Auth = auth
	return nil
}

// CustomizeConfig mirrors the Python original's CustomizeConfig: an opaque
// bag of per-deployment hook parameters, not interpreted by the core.
type CustomizeConfig struct {
	Command map[string]any
}

func (c *CustomizeConfig) fromJSON(m map[string]any) error {
	if cmd, ok := m["command"].(map[string]any); ok {
		c.Command = cmd
	} else {
		c.Command = map[string]any{}
	}
	return nil
}

// AppConfig is the top-level configuration object loaded from the config file.
type AppConfig struct {
	Broker    BrokerConfig
	Command   CommandConfig
	Reading   ReadingConfig
	Meta      MetaControlConfig
	Customize CustomizeConfig
}

// Load reads and validates the JSON configuration file at path.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Config: '%s' does not exist", path)
		}
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	cfg := &AppConfig{}

	mqttMap, ok := raw["mqtt"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Failed to load config: missing config segment: mqtt")
	}
	if err := cfg.Broker.fromJSON(mqttMap); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	cmdMap, ok := raw["command"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Failed to load config: missing config segment: command")
	}
	if err := cfg.Command.fromJSON(cmdMap); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	readingMap, ok := raw["reading"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Failed to load config: missing config segment: reading")
	}
	if err := cfg.Reading.fromJSON(readingMap); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	metaMap, ok := raw["meta"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Failed to load config: missing config segment: meta")
	}
	if err := cfg.Meta.fromJSON(metaMap); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	custMap, _ := raw["customize"].(map[string]any)
	if err := cfg.Customize.fromJSON(custMap); err != nil {
		return nil, fmt.Errorf("Failed to load config: %w", err)
	}

	return cfg, nil
}

// OverlayEnv overlays MQTT_USERNAME/MQTT_PASSWORD/MQTT_CLIENT_ID from the
// environment (optionally loaded from a .env file by the caller) onto the
// broker config.
func (c *AppConfig) OverlayEnv(getenv func(string) string) {
	if username := getenv("MQTT_USERNAME"); username != "" {
		password := getenv("MQTT_PASSWORD")
		c.Broker.Auth = &MqttAuthConfig{Username: username, Password: password}
	}
	if clientID := getenv("MQTT_CLIENT_ID"); clientID != "" {
		c.Broker.ClientID = clientID
	}
}

func jsonFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func jsonInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

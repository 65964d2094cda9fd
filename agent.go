package main

import (
	"log"
	"time"

	"github.com/mgrantham/solarexportctl/config"
)

const setupModeGrace = 10 * time.Second

// Agent is the lifecycle controller: it owns the three-bit state machine
// (operator-enable × inverter-status × setup-mode), wires Sampler and
// LimitCalculator to BrokerSession and MetaSurface, and produces commands.
type Agent struct {
	calc      *LimitCalculator
	scheduler *Scheduler
	broker    Broker
	meta      *MetaSurface
	customize Customize

	topics          config.MqttTopicConfig
	retain          bool
	cmdType         CommandType
	resetOnInactive bool

	setupMode          bool
	metaStatus         bool
	inverterStatus     bool
	publishedDiscovery bool
}

// NewAgent constructs the lifecycle controller. inverterStatusInit is the
// initial inverter_status bit: true when no inverter-status topic is
// configured, else the result of the optional customize calibration probe
// (false on probe failure).
func NewAgent(
	calc *LimitCalculator,
	scheduler *Scheduler,
	broker Broker,
	meta *MetaSurface,
	customize Customize,
	cmd config.CommandConfig,
	topics config.MqttTopicConfig,
	retain bool,
	resetOnInactive bool,
	inverterStatusInit bool,
) *Agent {
	cmdType := CommandAbsolute
	if cmd.Type == config.CommandRelative {
		cmdType = CommandRelative
	}

	return &Agent{
		calc:            calc,
		scheduler:       scheduler,
		broker:          broker,
		meta:            meta,
		customize:       customize,
		topics:          topics,
		retain:          retain,
		cmdType:         cmdType,
		resetOnInactive: resetOnInactive,
		setupMode:       true,
		metaStatus:      true,
		inverterStatus:  inverterStatusInit,
	}
}

// Active reports whether the loop is currently allowed to act.
func (a *Agent) Active() bool {
	return a.metaStatus && a.inverterStatus && !a.setupMode
}

// OnConnectSuccess wires subscriptions and enters setup mode, giving
// retained status messages time to settle before any command is emitted.
func (a *Agent) OnConnectSuccess() {
	a.broker.Subscribe(a.meta.TopicCmdEnabled(), 0, func(payload []byte) {
		a.handleMetaCmdEnabled(payload)
	})

	if a.topics.InverterStatus != "" {
		a.broker.Subscribe(a.topics.InverterStatus, 0, func(payload []byte) {
			a.handleInverterStatus(payload)
		})
	}

	a.meta.PublishStatusOnline(true)

	a.setupMode = true
	a.scheduler.Schedule(setupModeGrace, a.stopSetupMode)
}

// OnConnectError marks the agent safe/inactive after a rejected connection.
func (a *Agent) OnConnectError(_ byte) {
	a.inverterStatus = false
	a.metaStatus = false
	a.setupMode = false
}

// stopSetupMode ends setup mode and forces a status reconciliation pass.
func (a *Agent) stopSetupMode() {
	a.setupMode = false
	a.setStatus(nil, nil, true)
}

func (a *Agent) handleMetaCmdEnabled(payload []byte) {
	b, ok := decodeBoolPayload(payload)
	if !ok {
		return
	}
	a.setStatus(&b, nil, false)
}

func (a *Agent) handleInverterStatus(payload []byte) {
	b, ok := callFallible("parse_status", func() (bool, bool) { return a.customize.ParseStatus(payload) })
	if !ok {
		return
	}
	a.setStatus(nil, &b, false)
}

func decodeBoolPayload(payload []byte) (bool, bool) {
	switch string(payload) {
	case payloadTrue:
		return true, true
	case payloadFalse:
		return false, true
	default:
		return false, false
	}
}

// setStatus reconciles the meta/inverter status bits, honoring setup mode
// and publishing the resulting status/active transitions.
func (a *Agent) setStatus(meta, inverter *bool, force bool) {
	newMeta := a.metaStatus
	if meta != nil {
		newMeta = *meta
	}
	newInverter := a.inverterStatus
	if inverter != nil {
		newInverter = *inverter
	}

	if !force && newMeta == a.metaStatus && newInverter == a.inverterStatus {
		return
	}

	a.metaStatus = newMeta
	a.inverterStatus = newInverter

	if a.setupMode {
		return
	}

	active := newMeta && newInverter

	a.meta.PublishStatusEnabled(newMeta)
	a.meta.PublishStatusInverter(newInverter)
	a.meta.PublishStatusActive(active)

	if active {
		if !force {
			a.calc.Reset()
		}
		a.broker.Subscribe(a.topics.ReadPower, 0, func(payload []byte) {
			a.handlePowerReading(payload)
		})
		if !a.publishedDiscovery {
			a.meta.PublishDiscovery()
			a.publishedDiscovery = true
		}
		return
	}

	a.broker.Unsubscribe(a.topics.ReadPower)
	if !newMeta && !force && a.resetOnInactive {
		a.emitCommand(a.calc.GetCommandMax())
	}
}

// handlePowerReading decodes and processes one raw power-reading payload. Stray
// messages delivered after unsubscribe (broker delivery lag) are dropped.
func (a *Agent) handlePowerReading(payload []byte) {
	if !a.Active() {
		return
	}

	value, ok := callFallible("parse_power", func() (float64, bool) { return a.customize.ParsePower(payload) })
	if !ok {
		return
	}

	result := a.calc.AddReading(value)
	a.meta.PublishTelemetry(result)

	if result.HasCommand {
		a.emitCommand(result.Command)
	}
}

// emitCommand formats, publishes, and mirrors a command per the command
// emission steps: format -> publish write_command -> publish tele/command
// mirror -> optional generic side-effect hook.
func (a *Agent) emitCommand(command float64) {
	payload, ok := callFallible("format_command", func() (string, bool) {
		return a.customize.FormatCommand(command, a.cmdType)
	})
	if !ok {
		return
	}

	if a.topics.WriteCommand != "" {
		a.broker.Publish(a.topics.WriteCommand, payload, 0, a.retain)
		log.Printf("agent: published command %q", payload)
	}

	a.meta.PublishCommandTelemetry(command)

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("customize.on_command failed: %v", r)
			}
		}()
		if a.customize.OnCommand != nil {
			a.customize.OnCommand(command, a.cmdType)
		}
	}()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/mgrantham/solarexportctl/config"
	"github.com/mgrantham/solarexportctl/governor"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.BoolVar(verbose, "verbose", false, "enable debug logging")
	mqttDiag := flag.Bool("mqttdiag", false, "enable verbose broker client tracing")
	wizard := flag.Bool("wizard", false, "run the interactive config builder and exit")
	flag.Parse()

	if *wizard {
		path := flag.Arg(0)
		if path == "" {
			path = "config.json"
		}
		if err := runWizard(path); err != nil {
			fmt.Fprintf(os.Stderr, "wizard failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *mqttDiag {
		mqttDebugLogging()
	}

	path := flag.Arg(0)
	if path == "" {
		path = "config.json"
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg.OverlayEnv(os.Getenv)

	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calc := NewLimitCalculator(calculatorConfigFrom(cfg))
	scheduler := NewScheduler()
	customize := DefaultCustomize()

	willTopic, willPayload := metaWillTopic(cfg.Meta)
	broker := NewBrokerSession(cfg.Broker, willTopic, willPayload)
	meta := NewMetaSurface(cfg.Meta, broker, cfg.Command.Throttle)

	agent := NewAgent(
		calc, scheduler, broker, meta, customize,
		cfg.Command, cfg.Broker.Topics, cfg.Broker.Retain,
		cfg.Meta.ResetInverterOnInactive, initialInverterStatus(cfg.Broker.Topics, customize),
	)

	broker.OnConnectSuccess = agent.OnConnectSuccess
	broker.OnConnectError = agent.OnConnectError
	broker.OnDisconnect = func(error) {}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	log.Printf("solar export control starting, config=%s", path)
	broker.Run(ctx, scheduler)
}

// calculatorConfigFrom maps the loaded CommandConfig/ReadingConfig onto the
// calculator's own config type (seconds to time.Duration, shared smoothing
// parameters by type rather than by name).
func calculatorConfigFrom(cfg *config.AppConfig) CalculatorConfig {
	cmdType := CommandAbsolute
	if cfg.Command.Type == config.CommandRelative {
		cmdType = CommandRelative
	}

	smoothing := SmoothingNone
	switch cfg.Reading.Smoothing {
	case config.SmoothingAvg:
		smoothing = SmoothingAvg
	case config.SmoothingRamp:
		smoothing = SmoothingRamp
	}

	return CalculatorConfig{
		Target:              cfg.Command.Target,
		MinPower:            cfg.Command.MinPower,
		MaxPower:            cfg.Command.MaxPower,
		Type:                cmdType,
		Throttle:            secondsToDuration(cfg.Command.Throttle),
		Hysteresis:          cfg.Command.Hysteresis,
		Retransmit:          secondsToDuration(cfg.Command.Retransmit),
		Smoothing:           smoothing,
		SmoothingSampleSize: cfg.Reading.SmoothingSampleSize,
		Offset:              cfg.Reading.Offset,
		RampConfig: governor.SlowRampConfig{
			ThresholdSeconds:      cfg.Reading.Ramp.ThresholdSeconds,
			PressureCapSeconds:    cfg.Reading.Ramp.PressureCapSeconds,
			RateAccel:             cfg.Reading.Ramp.RateAccel,
			DecayMultiplier:       cfg.Reading.Ramp.DecayMultiplier,
			FullPressureDiff:      cfg.Reading.Ramp.FullPressureDiff,
			Damping:               cfg.Reading.Ramp.Damping,
			PressureReleaseFactor: cfg.Reading.Ramp.PressureReleaseFactor,
		},
	}
}

// initialInverterStatus is true when no inverter-status topic is
// configured, else the result of the optional customize calibration
// probe (false on probe failure).
func initialInverterStatus(topics config.MqttTopicConfig, customize Customize) bool {
	if topics.InverterStatus == "" {
		return true
	}
	status, ok := callFallible("calibrate", func() (bool, bool) { return customize.Calibrate() })
	if !ok {
		return false
	}
	return status
}

func metaWillTopic(cfg config.MetaControlConfig) (string, string) {
	return joinTopic(cfg.Prefix, "status/online"), payloadFalse
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// mqttDebugLogging wires paho's internal loggers to the standard logger,
// routing library diagnostics through the same log.Printf sink used
// elsewhere.
func mqttDebugLogging() {
	logger := log.New(os.Stderr, "[paho] ", log.LstdFlags)
	mqtt.DEBUG = logger
	mqtt.WARN = logger
	mqtt.CRITICAL = logger
	mqtt.ERROR = logger
}

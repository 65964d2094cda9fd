package main

import (
	"math"
	"time"

	"github.com/mgrantham/solarexportctl/governor"
)

// SmoothingMode selects how raw readings are turned into samples.
type SmoothingMode int

const (
	SmoothingNone SmoothingMode = iota
	SmoothingAvg
	SmoothingRamp
)

// Sampler turns raw power readings into smoothed samples.
// It owns a bounded window of recent offset-adjusted readings.
type Sampler struct {
	mode     SmoothingMode
	offset   float64
	capacity int
	window   []float64

	ramp       governor.SlowRampState
	rampConfig governor.SlowRampConfig
}

// NewSampler builds a Sampler for the given reading config.
func NewSampler(mode SmoothingMode, sampleSize int, offset float64, rampConfig governor.SlowRampConfig) *Sampler {
	capacity := sampleSize
	if capacity < 1 {
		capacity = 1
	}
	return &Sampler{
		mode:       mode,
		offset:     offset,
		capacity:   capacity,
		rampConfig: rampConfig,
	}
}

// Sample returns the current sample for raw+offset. NONE and AVG append it to
// the window; RAMP feeds it to the ramp smoother and leaves the window unused.
func (s *Sampler) Sample(raw float64) float64 {
	x := raw + s.offset

	switch s.mode {
	case SmoothingAvg:
		s.window = append(s.window, x)
		if len(s.window) > s.capacity {
			s.window = s.window[len(s.window)-s.capacity:]
		}
		var sum float64
		for _, v := range s.window {
			sum += v
		}
		return sum / float64(len(s.window))

	case SmoothingRamp:
		return s.ramp.Update(x, s.rampConfig)

	default: // SmoothingNone
		s.window = append(s.window, x)
		if len(s.window) > 1 {
			s.window = s.window[len(s.window)-1:]
		}
		return x
	}
}

// Reset empties the sample window and ramp state.
func (s *Sampler) Reset() {
	s.window = nil
	s.ramp = governor.SlowRampState{}
}

// CommandType selects how a limit is mapped onto the published command.
type CommandType int

const (
	CommandAbsolute CommandType = iota
	CommandRelative
)

// CalculatorConfig merges the command-shaping and reading-smoothing
// parameters the calculator needs into one value.
type CalculatorConfig struct {
	Target     int
	MinPower   float64
	MaxPower   float64
	Type       CommandType
	Throttle   time.Duration
	Hysteresis float64
	Retransmit time.Duration

	Smoothing           SmoothingMode
	SmoothingSampleSize int
	Offset              float64
	RampConfig          governor.SlowRampConfig
}

// Result is the per-reading output of the LimitCalculator.
type Result struct {
	Reading   float64
	Sample    float64
	Overshoot float64
	Limit     float64

	HasCommand bool
	Command    float64

	IsCalibration          bool
	IsThrottled            bool
	IsHysteresisSuppressed bool
	IsRetransmit           bool

	Elapsed time.Duration
}

// LimitCalculator implements the closed-loop update rule: smoothing,
// overshoot→limit, hysteresis, throttle, forced retransmit, and
// absolute/relative command mapping.
type LimitCalculator struct {
	config CalculatorConfig

	sampler *Sampler

	lastCommandTime time.Time
	lastLimitValue  float64
	isCalibrated    bool

	now func() time.Time
}

// NewLimitCalculator constructs a calculator seeded per CalcState:
// last_command_time = past-infinity, last_limit_value = min_power, is_calibrated = false.
func NewLimitCalculator(config CalculatorConfig) *LimitCalculator {
	c := &LimitCalculator{
		config:          config,
		sampler:         NewSampler(config.Smoothing, config.SmoothingSampleSize, config.Offset, config.RampConfig),
		lastCommandTime: time.Time{},
		lastLimitValue:  config.MinPower,
		now:             time.Now,
	}
	return c
}

// AddReading runs the full calculator algorithm for a single raw reading.
func (c *LimitCalculator) AddReading(raw float64) Result {
	sample := c.sampler.Sample(raw)

	result := Result{
		Reading: raw,
		Sample:  sample,
	}

	if !c.isCalibrated {
		result.IsCalibration = true
		c.computeAndCommit(sample, &result)
		c.isCalibrated = true
		return result
	}

	elapsed := c.now().Sub(c.lastCommandTime)
	result.Elapsed = roundToHundredths(elapsed)

	overshoot := sample - float64(c.config.Target)
	result.Overshoot = overshoot

	limitRaw := c.lastLimitValue + overshoot
	limit := clamp(limitRaw, c.config.MinPower, c.config.MaxPower)
	result.Limit = limit

	switch {
	case elapsed < c.config.Throttle:
		result.IsThrottled = true
		return result

	case c.config.Retransmit > 0 && elapsed >= c.config.Retransmit:
		result.IsRetransmit = true

	case c.snapToMax(limit):
		// bypass hysteresis

	case math.Abs(c.lastLimitValue-limit) < c.config.Hysteresis:
		result.IsHysteresisSuppressed = true
		return result
	}

	c.commitCommand(limit, &result)
	return result
}

// snapToMax lets a saturated limit always return to max_power, bypassing hysteresis.
func (c *LimitCalculator) snapToMax(limit float64) bool {
	return limit == c.config.MaxPower && c.lastLimitValue != c.config.MaxPower
}

// computeAndCommit handles the calibration path: overshoot/limit are computed
// normally against the seeded state, but suppression checks are skipped.
func (c *LimitCalculator) computeAndCommit(sample float64, result *Result) {
	overshoot := sample - float64(c.config.Target)
	result.Overshoot = overshoot

	limitRaw := c.lastLimitValue + overshoot
	limit := clamp(limitRaw, c.config.MinPower, c.config.MaxPower)
	result.Limit = limit

	c.commitCommand(limit, result)
}

func (c *LimitCalculator) commitCommand(limit float64, result *Result) {
	result.HasCommand = true
	result.Command = c.mapCommand(limit)

	c.lastCommandTime = c.now()
	c.lastLimitValue = limit
}

// mapCommand applies the ABSOLUTE/RELATIVE command mapping.
func (c *LimitCalculator) mapCommand(limit float64) float64 {
	if c.config.Type == CommandRelative {
		return (limit / c.config.MaxPower) * 100
	}
	return limit
}

// GetCommandMax returns the mapped command for the configured max_power.
func (c *LimitCalculator) GetCommandMax() float64 {
	return c.mapCommand(c.config.MaxPower)
}

// GetCommandMin returns the mapped command for the configured min_power.
func (c *LimitCalculator) GetCommandMin() float64 {
	return c.mapCommand(c.config.MinPower)
}

// Reset clears the sample window and CalcState.
func (c *LimitCalculator) Reset() {
	c.sampler.Reset()
	c.lastCommandTime = time.Time{}
	c.lastLimitValue = c.config.MinPower
	c.isCalibrated = false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundToHundredths(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}

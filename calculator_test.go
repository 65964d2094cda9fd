package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseConfig() CalculatorConfig {
	return CalculatorConfig{
		Target:              0,
		MinPower:            0,
		MaxPower:            1000,
		Type:                CommandAbsolute,
		Throttle:            10 * time.Second,
		Hysteresis:          20,
		Retransmit:          0,
		Smoothing:           SmoothingNone,
		SmoothingSampleSize: 1,
	}
}

// fakeClock lets tests advance the calculator's notion of now deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestCalculator(cfg CalculatorConfig) (*LimitCalculator, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	calc := NewLimitCalculator(cfg)
	calc.now = clock.now
	return calc, clock
}

func TestCalibration_S1(t *testing.T) {
	calc, _ := newTestCalculator(baseConfig())

	r := calc.AddReading(100)

	assert.Equal(t, 100.0, r.Sample)
	assert.Equal(t, 100.0, r.Overshoot)
	assert.Equal(t, 100.0, r.Limit)
	assert.True(t, r.HasCommand)
	assert.Equal(t, 100.0, r.Command)
	assert.True(t, r.IsCalibration)
}

func TestThrottle_S2(t *testing.T) {
	calc, clock := newTestCalculator(baseConfig())
	calc.AddReading(100)

	clock.advance(1 * time.Second)
	r := calc.AddReading(200)

	assert.True(t, r.IsThrottled)
	assert.False(t, r.HasCommand)
}

func TestHysteresisSkip_S3(t *testing.T) {
	calc, clock := newTestCalculator(baseConfig())
	calc.AddReading(100)

	clock.advance(11 * time.Second)
	r := calc.AddReading(110)
	assert.Equal(t, 210.0, r.Limit)
	assert.True(t, r.HasCommand)
	assert.Equal(t, 210.0, r.Command)

	clock.advance(11 * time.Second)
	r = calc.AddReading(115)
	assert.Equal(t, 325.0, r.Limit)
	assert.True(t, r.HasCommand)
	assert.Equal(t, 325.0, r.Command)

	clock.advance(11 * time.Second)
	r = calc.AddReading(-10)
	assert.Equal(t, 315.0, r.Limit)
	assert.False(t, r.HasCommand)
	assert.True(t, r.IsHysteresisSuppressed)
}

func TestRetransmit_S4(t *testing.T) {
	cfg := baseConfig()
	cfg.Retransmit = 30 * time.Second
	calc, clock := newTestCalculator(cfg)
	calc.AddReading(100)

	clock.advance(11 * time.Second)
	calc.AddReading(110)

	clock.advance(11 * time.Second)
	calc.AddReading(115)

	clock.advance(32 * time.Second) // elapsed since last command >= 30s
	r := calc.AddReading(-10)

	assert.Equal(t, 315.0, r.Limit)
	assert.True(t, r.HasCommand)
	assert.True(t, r.IsRetransmit)
	assert.Equal(t, 315.0, r.Command)
}

func TestSnapToMax_S5(t *testing.T) {
	cfg := baseConfig()
	calc, clock := newTestCalculator(cfg)
	calc.AddReading(100) // calibration, last_limit_value -> 100

	clock.advance(11 * time.Second)
	calc.AddReading(899) // -> limit_raw = 100+899 = 999, clamp -> 999

	clock.advance(11 * time.Second)
	r := calc.AddReading(50) // limit_raw = 999+50 = 1049, clamp -> 1000, |1000-999|=1 < 20

	assert.Equal(t, 1000.0, r.Limit)
	assert.True(t, r.HasCommand, "snap-to-max should bypass hysteresis suppression")
	assert.Equal(t, 1000.0, r.Command)
}

func TestClampInvariant(t *testing.T) {
	cfg := baseConfig()
	calc, clock := newTestCalculator(cfg)

	r := calc.AddReading(100000)
	assert.LessOrEqual(t, r.Limit, cfg.MaxPower)
	assert.GreaterOrEqual(t, r.Limit, cfg.MinPower)

	clock.advance(11 * time.Second)
	r = calc.AddReading(-100000)
	assert.LessOrEqual(t, r.Limit, cfg.MaxPower)
	assert.GreaterOrEqual(t, r.Limit, cfg.MinPower)
}

func TestRelativeMapping(t *testing.T) {
	cfg := baseConfig()
	cfg.Type = CommandRelative
	calc, _ := newTestCalculator(cfg)

	r := calc.AddReading(500)
	assert.Equal(t, 50.0, r.Command) // limit=500, max=1000 -> 50%
}

func TestNoCommandWhileSuppressedLeavesStateUnchanged(t *testing.T) {
	calc, clock := newTestCalculator(baseConfig())
	calc.AddReading(100)
	before := calc.lastLimitValue
	beforeTime := calc.lastCommandTime

	clock.advance(1 * time.Second)
	calc.AddReading(200) // throttled

	assert.Equal(t, before, calc.lastLimitValue)
	assert.Equal(t, beforeTime, calc.lastCommandTime)
}

func TestThrottleInvariant(t *testing.T) {
	cfg := baseConfig()
	calc, clock := newTestCalculator(cfg)
	calc.AddReading(100)
	t1 := calc.lastCommandTime

	clock.advance(5 * time.Second)
	calc.AddReading(300) // still inside throttle window, suppressed
	assert.Equal(t, t1, calc.lastCommandTime)

	clock.advance(11 * time.Second)
	calc.AddReading(300)
	t2 := calc.lastCommandTime
	assert.GreaterOrEqual(t, t2.Sub(t1), cfg.Throttle)
}

func TestResetIdempotence(t *testing.T) {
	calc, clock := newTestCalculator(baseConfig())
	calc.AddReading(100)
	clock.advance(11 * time.Second)
	calc.AddReading(300)

	calc.Reset()
	first := *calc

	calc.Reset()
	second := *calc

	assert.Equal(t, first.lastLimitValue, second.lastLimitValue)
	assert.Equal(t, first.lastCommandTime, second.lastCommandTime)
	assert.Equal(t, first.isCalibrated, second.isCalibrated)
}

func TestResetSeedsMinPower(t *testing.T) {
	calc, _ := newTestCalculator(baseConfig())
	calc.AddReading(100)
	calc.Reset()

	assert.Equal(t, 0.0, calc.lastLimitValue)
	assert.False(t, calc.isCalibrated)
}

func TestSmoothingNoneEquivalence(t *testing.T) {
	cfg := baseConfig()
	cfg.Offset = 7
	calc, _ := newTestCalculator(cfg)

	r := calc.AddReading(93)
	assert.Equal(t, 100.0, r.Sample)
}

func TestSmoothingAvg(t *testing.T) {
	cfg := baseConfig()
	cfg.Smoothing = SmoothingAvg
	cfg.SmoothingSampleSize = 3
	calc, clock := newTestCalculator(cfg)

	calc.AddReading(10)
	clock.advance(11 * time.Second)
	calc.AddReading(20)
	clock.advance(11 * time.Second)
	r := calc.AddReading(30)
	assert.Equal(t, 20.0, r.Sample)

	clock.advance(11 * time.Second)
	r = calc.AddReading(60) // window now [20,30,60] (10 evicted)
	assert.InDelta(t, 36.666, r.Sample, 0.01)
}

func TestGetCommandMinMax(t *testing.T) {
	cfg := baseConfig()
	calc, _ := newTestCalculator(cfg)
	assert.Equal(t, 1000.0, calc.GetCommandMax())
	assert.Equal(t, 0.0, calc.GetCommandMin())

	cfg.Type = CommandRelative
	calc2, _ := newTestCalculator(cfg)
	assert.Equal(t, 100.0, calc2.GetCommandMax())
	assert.Equal(t, 0.0, calc2.GetCommandMin())
}

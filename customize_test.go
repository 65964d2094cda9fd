package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePowerPayload(t *testing.T) {
	v, ok := parsePowerPayload([]byte(`{"em":{"power_total": 123.4}}`))
	assert.True(t, ok)
	assert.Equal(t, 123.4, v)
}

func TestParsePowerPayload_Negative(t *testing.T) {
	v, ok := parsePowerPayload([]byte(`{"em":{"power_total": -50}}`))
	assert.True(t, ok)
	assert.Equal(t, -50.0, v)
}

func TestParsePowerPayload_MissingField(t *testing.T) {
	_, ok := parsePowerPayload([]byte(`{"em":{}}`))
	assert.False(t, ok)
}

func TestParsePowerPayload_InvalidJSON(t *testing.T) {
	_, ok := parsePowerPayload([]byte(`not json`))
	assert.False(t, ok)
}

func TestParseInverterStatusPayload(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		"TRUE":  true,
		" 1 ":   true,
		"0":     false,
		"false": false,
		"junk":  false,
	}
	for payload, want := range cases {
		got, ok := parseInverterStatusPayload([]byte(payload))
		assert.True(t, ok)
		assert.Equal(t, want, got, "payload %q", payload)
	}
}

func TestFormatCommandPayload(t *testing.T) {
	s, ok := formatCommandPayload(123.456, CommandAbsolute)
	assert.True(t, ok)
	assert.Equal(t, "123.46", s)
}

func TestCallFallible_ReturnsValue(t *testing.T) {
	v, ok := callFallible("test", func() (int, bool) { return 42, true })
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCallFallible_FalseOk(t *testing.T) {
	v, ok := callFallible("test", func() (int, bool) { return 0, false })
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestCallFallible_RecoversPanic(t *testing.T) {
	v, ok := callFallible("test", func() (string, bool) {
		panic("boom")
	})
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestDefaultCustomize_WiresHooks(t *testing.T) {
	c := DefaultCustomize()
	require := assert.New(t)
	require.NotNil(c.ParsePower)
	require.NotNil(c.ParseStatus)
	require.NotNil(c.FormatCommand)
	require.NotNil(c.OnCommand)
	require.NotNil(c.Calibrate)

	calibrated, ok := c.Calibrate()
	require.False(calibrated)
	require.False(ok)
}

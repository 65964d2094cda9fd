package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Customize is the small capability object exposing the agent's
// per-deployment extension points. Every method is fallible; the core
// treats any failure as "no value, continue".
type Customize struct {
	ParsePower    func(payload []byte) (float64, bool)
	ParseStatus   func(payload []byte) (bool, bool)
	FormatCommand func(command float64, cmdType CommandType) (string, bool)
	OnCommand     func(command float64, cmdType CommandType)
	Calibrate     func() (bool, bool)
}

// DefaultCustomize returns the representative hook implementations
// documented as the external power-reading/inverter-status payload
// formats: a JSON object with an inner "em.power_total" number for
// readings, and a case-insensitive "1"/"true" decode for status.
func DefaultCustomize() Customize {
	return Customize{
		ParsePower:    parsePowerPayload,
		ParseStatus:   parseInverterStatusPayload,
		FormatCommand: formatCommandPayload,
		OnCommand:     func(float64, CommandType) {},
		Calibrate:     func() (bool, bool) { return false, false },
	}
}

// parsePowerPayload decodes {"em":{"power_total": <number>}}; negative
// means export to grid.
func parsePowerPayload(payload []byte) (float64, bool) {
	var obj struct {
		Em struct {
			PowerTotal *float64 `json:"power_total"`
		} `json:"em"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, false
	}
	if obj.Em.PowerTotal == nil {
		return 0, false
	}
	return *obj.Em.PowerTotal, true
}

// parseInverterStatusPayload decodes a case-insensitive "1"/"true" as
// active, anything else as inactive.
func parseInverterStatusPayload(payload []byte) (bool, bool) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	return s == "1" || s == "true", true
}

// formatCommandPayload renders an absolute or relative command as "%.2f".
func formatCommandPayload(command float64, _ CommandType) (string, bool) {
	return fmt.Sprintf("%.2f", command), true
}

// callFallible wraps a fallible hook invocation: any panic is caught and logged at
// warning, and treated as "no value, continue".
func callFallible[T any](name string, fn func() (T, bool)) (zero T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("customize.%s failed: %v", name, r)
			ok = false
		}
	}()
	return fn()
}

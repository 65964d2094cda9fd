package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// runWizard prompts for the fields of a config file and writes the result
// to path. It is a straight-line prompt sequence: no revalidation loop, no
// dependent-field re-prompting.
func runWizard(path string) error {
	rl, err := readline.NewEx(&readline.Config{Prompt: "? "})
	if err != nil {
		return fmt.Errorf("readline init failed: %w", err)
	}
	defer rl.Close()

	ask := func(prompt, def string) (string, error) {
		if def != "" {
			rl.SetPrompt(fmt.Sprintf("%s [%s]: ", prompt, def))
		} else {
			rl.SetPrompt(prompt + ": ")
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", errors.New("wizard cancelled")
		}
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def, nil
		}
		return line, nil
	}

	askFloat := func(prompt string, def float64) (float64, error) {
		s, err := ask(prompt, strconv.FormatFloat(def, 'f', -1, 64))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}

	askInt := func(prompt string, def int) (int, error) {
		s, err := ask(prompt, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(s)
	}

	host, err := ask("broker host", "localhost")
	if err != nil {
		return err
	}
	port, err := askInt("broker port", 1883)
	if err != nil {
		return err
	}
	clientID, err := ask("client id", "solar-export-control")
	if err != nil {
		return err
	}
	readPower, err := ask("read power topic", "meter/power")
	if err != nil {
		return err
	}
	writeCommand, err := ask("write command topic", "inverter/limit")
	if err != nil {
		return err
	}
	inverterStatus, err := ask("inverter status topic (blank if none)", "")
	if err != nil {
		return err
	}

	target, err := askInt("target power (W)", 0)
	if err != nil {
		return err
	}
	minPower, err := askFloat("min power (W)", 0)
	if err != nil {
		return err
	}
	maxPower, err := askFloat("max power (W)", 5000)
	if err != nil {
		return err
	}
	cmdType, err := ask("command type (absolute/relative)", "absolute")
	if err != nil {
		return err
	}
	throttle, err := askInt("throttle (seconds)", 10)
	if err != nil {
		return err
	}
	hysteresis, err := askFloat("hysteresis (W)", 20)
	if err != nil {
		return err
	}
	retransmit, err := askInt("retransmit (seconds, 0 disables)", 0)
	if err != nil {
		return err
	}
	metaPrefix, err := ask("meta topic prefix", "sec")
	if err != nil {
		return err
	}

	doc := map[string]any{
		"mqtt": map[string]any{
			"host":     host,
			"port":     port,
			"clientId": clientID,
			"topics": map[string]any{
				"readPower":      readPower,
				"writeCommand":   writeCommand,
				"inverterStatus": inverterStatus,
			},
		},
		"command": map[string]any{
			"target":     target,
			"minPower":   minPower,
			"maxPower":   maxPower,
			"type":       cmdType,
			"throttle":   throttle,
			"hysteresis": hysteresis,
			"retransmit": retransmit,
		},
		"reading": map[string]any{
			"smoothing": "none",
		},
		"meta": map[string]any{
			"prefix":                       metaPrefix,
			"resetInverterLimitOnInactive": true,
			"telemetry": map[string]any{
				"power": true, "sample": true, "overshoot": true, "limit": true, "command": true,
			},
			"homeAssistantDiscovery": map[string]any{
				"enabled": false, "discoveryPrefix": "homeassistant", "id": 1, "name": "Solar Export Control",
			},
		},
		"customize": map[string]any{},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

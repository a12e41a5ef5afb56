package chain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Exporter commands
const (
	CommandOn  = "on"
	CommandOff = "off"
)

type command struct {
	Command string `json:"command"`
}

type result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// EncodeCommand builds the payload addressing cmd to one element,
// e.g. {"exporter":{"command":"on"}}
func EncodeCommand(element, cmd string) []byte {
	payload, _ := json.Marshal(map[string]command{element: {Command: cmd}})
	return payload
}

// ParseCommands decodes a command payload into element -> command
func ParseCommands(payload []byte) (map[string]string, error) {
	var raw map[string]command
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed command: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("malformed command: no element addressed")
	}

	cmds := make(map[string]string, len(raw))
	for element, c := range raw {
		if c.Command == "" {
			return nil, fmt.Errorf("malformed command for %q: missing `command`", element)
		}
		cmds[element] = c.Command
	}
	return cmds, nil
}

// EncodeResult builds the result payload for a command; a nil error
// reports status ok for that element
func EncodeResult(results map[string]error) string {
	out := make(map[string]result, len(results))
	for element, err := range results {
		if err != nil {
			out[element] = result{Status: "error", Error: err.Error()}
			continue
		}
		out[element] = result{Status: "ok"}
	}
	payload, _ := json.Marshal(out)
	return string(payload)
}

// ApplyCommands runs each command against the switch of the element it
// names and returns the result payload. Elements are visited in name order.
func ApplyCommands(payload []byte, switches map[string]*Switch) (string, error) {
	cmds, err := ParseCommands(payload)
	if err != nil {
		return "", err
	}

	elements := make([]string, 0, len(cmds))
	for element := range cmds {
		elements = append(elements, element)
	}
	sort.Strings(elements)

	results := make(map[string]error, len(cmds))
	for _, element := range elements {
		sw, ok := switches[element]
		if !ok {
			results[element] = fmt.Errorf("%w: %s", ErrUnknownElement, element)
			continue
		}
		results[element] = sw.Apply(cmds[element])
	}
	return EncodeResult(results), nil
}

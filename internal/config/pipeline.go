package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// DefaultPipelineFile is read when no --pipeline flag is given
const DefaultPipelineFile = "framefilter.json"

// ValidationError reports a configuration file that must not be started
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Invalid configuration provided: %s: %v", e.Reason, e.Err)
	}
	return "Invalid configuration provided: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ChainConfig is one entry of the `chains` array. Raw is the complete
// object, handed verbatim to the chain backend.
type ChainConfig struct {
	ID   string          `json:"id" yaml:"id"`
	Kind string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Raw  json.RawMessage `json:"-" yaml:"-"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// Pipeline is a validated pipeline configuration file
type Pipeline struct {
	// IFF is the subsystem-global section, passed through untouched
	IFF     json.RawMessage
	Chains  []ChainConfig
	Overlay OverlayConfig

	path string
}

// Load reads and validates a pipeline configuration file
func Load(path string) (*Pipeline, error) {
	if path == "" {
		path = DefaultPipelineFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Reason: "cannot read " + path, Err: err}
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p.path = path

	logger.WithComponent("config").Info().
		Str("path", path).
		Int("chains", len(p.Chains)).
		Msg("Pipeline configuration loaded")

	return p, nil
}

// Parse validates a pipeline configuration document. Comments are allowed
// and anything after the top-level object is ignored.
func Parse(data []byte) (*Pipeline, error) {
	clean, err := StripComments(data)
	if err != nil {
		return nil, &ValidationError{Reason: "malformed document", Err: err}
	}

	var top map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(clean))
	if err := dec.Decode(&top); err != nil {
		return nil, &ValidationError{Reason: "malformed document", Err: err}
	}
	if top == nil {
		return nil, invalid("top level must be an object")
	}

	rawChains, ok := top["chains"]
	if !ok {
		return nil, invalid("missing `chains` section")
	}
	if !isArray(rawChains) {
		return nil, invalid("section `chains` must be an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawChains, &items); err != nil {
		return nil, &ValidationError{Reason: "section `chains` must be an array", Err: err}
	}
	if len(items) == 0 {
		return nil, invalid("section `chains` must not be empty")
	}

	rawIFF, ok := top["IFF"]
	if !ok {
		return nil, invalid("missing `IFF` section")
	}

	p := &Pipeline{
		IFF:    rawIFF,
		Chains: make([]ChainConfig, 0, len(items)),
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{},
		},
	}

	seen := make(map[string]int, len(items))
	for i, item := range items {
		var head struct {
			ID   *json.RawMessage `json:"id"`
			Kind string           `json:"kind"`
		}
		if !isObject(item) {
			return nil, invalid("chain #%d must be an object", i)
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("chain #%d", i), Err: err}
		}
		if head.ID == nil {
			return nil, invalid("chain #%d: missing `id`", i)
		}
		var id string
		if err := json.Unmarshal(*head.ID, &id); err != nil || id == "" {
			return nil, invalid("chain #%d: `id` must be a non-empty string", i)
		}
		if prev, dup := seen[id]; dup {
			return nil, invalid("chain #%d: duplicate id %q (first used by chain #%d)", i, id, prev)
		}
		seen[id] = i

		p.Chains = append(p.Chains, ChainConfig{ID: id, Kind: head.Kind, Raw: item})
	}

	if rawOverlay, ok := top["overlay"]; ok {
		if err := json.Unmarshal(rawOverlay, &p.Overlay); err != nil {
			return nil, &ValidationError{Reason: "section `overlay`", Err: err}
		}
		if p.Overlay.Widgets == nil {
			p.Overlay.Widgets = []map[string]interface{}{}
		}
	}

	return p, nil
}

// Path returns the absolute path the pipeline was loaded from
func (p *Pipeline) Path() string {
	return p.path
}

// Chain returns the configuration of the chain with the given id
func (p *Pipeline) Chain(id string) (ChainConfig, bool) {
	for _, c := range p.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// Document returns the pipeline as plain values, for printing
func (p *Pipeline) Document() (map[string]interface{}, error) {
	var iff interface{}
	if err := json.Unmarshal(p.IFF, &iff); err != nil {
		return nil, fmt.Errorf("failed to decode IFF section: %w", err)
	}

	chains := make([]interface{}, 0, len(p.Chains))
	for _, c := range p.Chains {
		var v interface{}
		if err := json.Unmarshal(c.Raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode chain %s: %w", c.ID, err)
		}
		chains = append(chains, v)
	}

	return map[string]interface{}{
		"IFF":    iff,
		"chains": chains,
		"overlay": map[string]interface{}{
			"enabled": p.Overlay.Enabled,
			"widgets": p.Overlay.Widgets,
		},
	}, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

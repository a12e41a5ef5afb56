package overlay

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
	"github.com/bryanchriswhite/FrameFilter/internal/logger"
)

// DefaultCrosshairID names the crosshair installed when no widgets are configured
const DefaultCrosshairID = "crosshair"

// Manager handles overlay widgets and rendering. Widgets render in the
// order they were added.
type Manager struct {
	widgets []Widget
	index   map[string]int
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{
		index:   make(map[string]int),
		enabled: true,
	}
}

// NewDefaultManager returns a manager holding a single default crosshair
func NewDefaultManager() *Manager {
	m := NewManager()
	w, _ := NewCrosshairWidget(DefaultCrosshairID, nil)
	m.widgets = append(m.widgets, w)
	m.index[w.ID()] = 0
	return m
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[widget.ID()]; exists {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.index[widget.ID()] = len(m.widgets)
	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Info().Msgf("Added widget: %s (type: %s)", widget.ID(), widget.Type())
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, exists := m.index[id]
	if !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	delete(m.index, id)
	for j := i; j < len(m.widgets); j++ {
		m.index[m.widgets[j].ID()] = j
	}
	logger.WithComponent("overlay").Info().Msgf("Removed widget: %s", id)
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, exists := m.index[id]
	if !exists {
		return nil, false
	}
	return m.widgets[i], true
}

// GetAllWidgets returns all widgets in render order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widgets := make([]Widget, len(m.widgets))
	copy(widgets, m.widgets)
	return widgets
}

// UpdateWidget updates a widget's configuration
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, exists := m.index[id]
	if !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	if err := m.widgets[i].UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}

	logger.WithComponent("overlay").Info().Msgf("Updated widget: %s", id)
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render renders all enabled widgets onto the view. A failing widget is
// logged and the rest still render.
func (m *Manager) Render(v *frame.View) error {
	// Widgets are mutated by UpdateWidget under the write lock, so the read
	// lock is held for the whole pass.
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return nil
	}

	for _, widget := range m.widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(v); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("widget", widget.ID()).Msg("Failed to render widget")
		}
	}

	return nil
}

// Transform renders the overlay in place onto a frame held in data
func (m *Manager) Transform(data []byte, meta frame.Metadata) error {
	v, err := frame.NewView(data, meta)
	if err != nil {
		return err
	}
	return m.Render(v)
}

// validator is implemented by widgets with constraints beyond UpdateConfig
type validator interface {
	Validate() error
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "crosshair":
		widget, err = NewCrosshairWidget(id, config)
	case "text":
		widget, err = NewTextWidget(id, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}

	if v, ok := widget.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s widget: %w", widgetType, err)
		}
	}

	return widget, nil
}

// LoadFromConfig loads widget configurations and creates widget instances.
// Entries that cannot be built are logged and skipped.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) error {
	log := logger.WithComponent("overlay")
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			log.Warn().Str("type", widgetType).Msg("Skipping widget with missing ID")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("widget", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("widget", id).Msg("Failed to add widget")
		}
	}

	return nil
}

// ExportConfig exports all widget configurations
func (m *Manager) ExportConfig() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]map[string]interface{}, 0, len(m.widgets))
	for _, widget := range m.widgets {
		configs = append(configs, widget.GetConfig())
	}

	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.widgets = nil
	m.index = make(map[string]int)
	logger.WithComponent("overlay").Info().Msg("Cleared all widgets")
}

// GetAvailableWidgetTypes returns a list of available widget types
func (m *Manager) GetAvailableWidgetTypes() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type":        "crosshair",
			"name":        "Crosshair",
			"description": "Solid cross centred on the frame",
			"config_schema": map[string]interface{}{
				"arm_length":     "int (default 100)",
				"half_thickness": "int (default 2)",
				"x":              "int (offset from centre)",
				"y":              "int (offset from centre)",
				"enabled":        "bool",
				"color":          "object {r, g, b, a}",
			},
		},
		{
			"type":        "text",
			"name":        "Text Label",
			"description": "Display text on the frame; {seq} expands to the frame sequence number",
			"config_schema": map[string]interface{}{
				"text":       "string (required)",
				"x":          "int (position)",
				"y":          "int (position)",
				"opacity":    "float (0.0-1.0)",
				"enabled":    "bool",
				"color":      "object {r, g, b, a}",
				"background": "object {r, g, b, a} (optional)",
				"padding":    "int",
			},
		},
	}
}

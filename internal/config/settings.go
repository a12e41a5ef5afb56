package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are the process-level options. They come from flags bound to
// viper, FRAMEFILTER_* environment variables and an optional settings file.
type Settings struct {
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogPretty      bool          `mapstructure:"log_pretty" yaml:"log_pretty" json:"log_pretty"`
	Pipeline       string        `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	StatusAddr     string        `mapstructure:"status_addr" yaml:"status_addr" json:"status_addr"`
	ImportChain    string        `mapstructure:"import_chain" yaml:"import_chain" json:"import_chain"`
	ExportChain    string        `mapstructure:"export_chain" yaml:"export_chain" json:"export_chain"`
	Importer       string        `mapstructure:"importer" yaml:"importer" json:"importer"`
	Exporter       string        `mapstructure:"exporter" yaml:"exporter" json:"exporter"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" json:"command_timeout"`
}

// EnvPrefix is prepended to every environment override
const EnvPrefix = "FRAMEFILTER"

// SetDefaults registers the default value of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("pipeline", DefaultPipelineFile)
	v.SetDefault("status_addr", "")
	v.SetDefault("import_chain", "import")
	v.SetDefault("export_chain", "export")
	v.SetDefault("importer", "importer")
	v.SetDefault("exporter", "exporter")
	v.SetDefault("command_timeout", 5*time.Second)
}

// LoadSettings resolves settings from v. When file is set it is read first;
// flags and environment still take precedence over it.
func LoadSettings(v *viper.Viper, file string) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings that would otherwise fail late
func (s *Settings) Validate() error {
	if s.ImportChain == "" || s.ExportChain == "" {
		return fmt.Errorf("import_chain and export_chain must be set")
	}
	if s.Importer == "" || s.Exporter == "" {
		return fmt.Errorf("importer and exporter element names must be set")
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %v", s.CommandTimeout)
	}
	return nil
}

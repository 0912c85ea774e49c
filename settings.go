package irbis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConnectionSettings are the persisted settings of a connection.
type ConnectionSettings struct {
	Host        string `toml:"host" yaml:"host"`
	Port        int    `toml:"port" yaml:"port"`
	Username    string `toml:"username" yaml:"username"`
	Password    string `toml:"password" yaml:"password"`
	Database    string `toml:"database" yaml:"database"`
	Workstation string `toml:"workstation" yaml:"workstation"`
	RetryLimit  int    `toml:"retry" yaml:"retry"`
	Data        string `toml:"data" yaml:"data"`
}

// DefaultSettings returns the settings of a new connection.
func DefaultSettings() ConnectionSettings {
	return ConnectionSettings{
		Host:        DefaultHost,
		Port:        DefaultPort,
		Database:    DefaultDatabase,
		Workstation: DefaultWorkstation,
	}
}

// ParseSettings parses a connection string into settings, starting from
// the defaults.
func ParseSettings(text string) (ConnectionSettings, error) {
	settings := DefaultSettings()
	if err := settings.parse(text); err != nil {
		return ConnectionSettings{}, err
	}
	return settings, nil
}

// Settings returns the current settings of the connection.
func (c *Connection) Settings() ConnectionSettings {
	return ConnectionSettings{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		Database:    c.Database,
		Workstation: c.Workstation,
		RetryLimit:  c.RetryLimit,
		Data:        c.Data,
	}
}

// Apply copies the settings to the connection. Empty fields are kept at the
// connection's value.
func (s ConnectionSettings) Apply(c *Connection) {
	if s.Host != "" {
		c.Host = s.Host
	}
	if s.Port != 0 {
		c.Port = s.Port
	}
	c.Username = s.Username
	c.Password = s.Password
	if s.Database != "" {
		c.Database = s.Database
	}
	if s.Workstation != "" {
		c.Workstation = s.Workstation
	}
	c.RetryLimit = s.RetryLimit
	c.Data = s.Data
}

// LoadSettings reads settings from a TOML (.toml) or YAML (.yaml, .yml)
// file. Unknown keys are an error.
func LoadSettings(path string) (ConnectionSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectionSettings{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return ParseSettingsTOML(data)
	case ".yaml", ".yml":
		return ParseSettingsYAML(data)
	default:
		return ConnectionSettings{}, fmt.Errorf("irbis: unsupported settings file %q", path)
	}
}

// ParseSettingsTOML decodes TOML settings over the defaults.
func ParseSettingsTOML(data []byte) (ConnectionSettings, error) {
	settings := DefaultSettings()
	md, err := toml.Decode(string(data), &settings)
	if err != nil {
		return ConnectionSettings{}, fmt.Errorf("irbis: invalid settings: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return ConnectionSettings{}, &UnknownKeyError{Key: undecoded[0].String()}
	}
	return settings, nil
}

// ParseSettingsYAML decodes YAML settings over the defaults.
func ParseSettingsYAML(data []byte) (ConnectionSettings, error) {
	settings := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
		return ConnectionSettings{}, fmt.Errorf("irbis: invalid settings: %w", err)
	}
	return settings, nil
}

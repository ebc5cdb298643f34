// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package config loads sagakeeper settings from layered YAML files and
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Layer is a configuration layer.
//
// Precedence (low → high): Defaults < Base < EnvironmentFile < OverrideFile < EnvironmentVariables
type Layer int

const (
	// DefaultsLayer holds values registered with SetDefault.
	DefaultsLayer Layer = iota
	// BaseLayer is the base configuration file (sagakeeper.yaml) or Options.ConfigFile.
	BaseLayer
	// EnvironmentFileLayer is the environment file (sagakeeper.prod.yaml).
	EnvironmentFileLayer
	// OverrideFileLayer is the operator override file (sagakeeper.override.yaml).
	OverrideFileLayer
	// EnvironmentVariablesLayer is SAGAKEEPER_* environment variables.
	EnvironmentVariablesLayer
)

// DefaultEnvPrefix prefixes environment variables, e.g. SAGAKEEPER_STORAGE_ROOT.
const DefaultEnvPrefix = "SAGAKEEPER"

// Options configures the Manager.
type Options struct {
	// WorkDir resolves relative config file names.
	WorkDir string

	// ConfigFile, when set, replaces the base file lookup. A missing
	// ConfigFile is an error, unlike the optional layered files.
	ConfigFile string

	// ConfigBaseName is the file name without extension (default: "sagakeeper").
	ConfigBaseName string

	// ConfigType is yaml or json. Default: "yaml".
	ConfigType string

	// EnvironmentName selects the environment file, e.g. "dev" → sagakeeper.dev.yaml.
	EnvironmentName string

	// OverrideFilename defaults to "<base>.override.<ext>".
	OverrideFilename string

	// EnvPrefix is the environment variable prefix.
	EnvPrefix string

	// EnableAutomaticEnv binds environment variables with dot→underscore mapping.
	EnableAutomaticEnv bool
}

// DefaultOptions returns options reading ./sagakeeper.yaml and SAGAKEEPER_* variables.
func DefaultOptions() Options {
	return Options{
		WorkDir:            ".",
		ConfigBaseName:     "sagakeeper",
		ConfigType:         "yaml",
		EnvPrefix:          DefaultEnvPrefix,
		EnableAutomaticEnv: true,
	}
}

// Manager merges configuration layers in a fixed order on top of a viper
// instance.
type Manager struct {
	mu      sync.RWMutex
	v       *viper.Viper
	options Options
}

// NewManager creates a Manager.
func NewManager(options Options) *Manager {
	v := viper.New()
	if options.ConfigType == "" {
		options.ConfigType = "yaml"
	}
	if options.ConfigBaseName == "" {
		options.ConfigBaseName = "sagakeeper"
	}
	if options.WorkDir == "" {
		options.WorkDir = "."
	}

	if options.EnableAutomaticEnv {
		if options.EnvPrefix != "" {
			v.SetEnvPrefix(options.EnvPrefix)
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}

	return &Manager{v: v, options: options}
}

// SetDefault sets the default value of key.
func (m *Manager) SetDefault(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v.SetDefault(key, value)
}

// Load merges the file layers. Environment variables are consulted on access.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.options.ConfigFile != "" {
		if err := m.mergeFile(m.options.ConfigFile); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	} else if err := m.mergeFileIfExists(m.filePathFor(BaseLayer)); err != nil {
		return fmt.Errorf("load base config: %w", err)
	}

	if m.options.EnvironmentName != "" {
		if err := m.mergeFileIfExists(m.filePathFor(EnvironmentFileLayer)); err != nil {
			return fmt.Errorf("load env config: %w", err)
		}
	}

	if err := m.mergeFileIfExists(m.filePathFor(OverrideFileLayer)); err != nil {
		return fmt.Errorf("load override config: %w", err)
	}
	return nil
}

// Unmarshal binds the merged settings into target.
func (m *Manager) Unmarshal(target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if target == nil {
		return errors.New("target must not be nil")
	}
	return m.v.Unmarshal(target)
}

// Get returns the merged value of key.
func (m *Manager) Get(key string) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// Set overrides key above every layer. Used for command-line flags.
func (m *Manager) Set(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v.Set(key, value)
}

func (m *Manager) filePathFor(layer Layer) string {
	dir := m.options.WorkDir
	base := m.options.ConfigBaseName
	switch layer {
	case BaseLayer:
		return filepath.Join(dir, fmt.Sprintf("%s.%s", base, m.normalizedConfigExt()))
	case EnvironmentFileLayer:
		env := m.options.EnvironmentName
		return filepath.Join(dir, fmt.Sprintf("%s.%s.%s", base, strings.ToLower(env), m.normalizedConfigExt()))
	case OverrideFileLayer:
		name := m.options.OverrideFilename
		if name == "" {
			name = fmt.Sprintf("%s.override.%s", base, m.normalizedConfigExt())
		}
		return filepath.Join(dir, name)
	default:
		return ""
	}
}

func (m *Manager) normalizedConfigExt() string {
	t := strings.ToLower(m.options.ConfigType)
	switch t {
	case "yml":
		return "yaml"
	case "yaml", "json":
		return t
	default:
		return "yaml"
	}
}

func (m *Manager) mergeFileIfExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return m.mergeFile(path)
}

// mergeFile parses path into a scratch viper first so a malformed file
// leaves the merged settings untouched.
func (m *Manager) mergeFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tmp := viper.New()
	tmp.SetConfigType(m.normalizedConfigExt())
	if err := tmp.ReadConfig(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return m.v.MergeConfigMap(tmp.AllSettings())
}

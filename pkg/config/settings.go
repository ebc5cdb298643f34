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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the typed configuration of a sagakeeper endpoint.
type Settings struct {
	Storage   StorageSettings   `mapstructure:"storage" yaml:"storage"`
	Endpoint  EndpointSettings  `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol  ProtocolSettings  `mapstructure:"protocol" yaml:"protocol"`
	Scheduler SchedulerSettings `mapstructure:"scheduler" yaml:"scheduler"`
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
}

// StorageSettings configures the file instance store.
type StorageSettings struct {
	// Root is the directory holding one sub-directory per saga type.
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// ConflictRetryDelay is the wait before retrying a conflicting open.
	ConflictRetryDelay time.Duration `mapstructure:"conflict_retry_delay" yaml:"conflict_retry_delay" validate:"gte=0"`

	// PrettyPrint indents instance files.
	PrettyPrint bool `mapstructure:"pretty_print" yaml:"pretty_print"`
}

// EndpointSettings identifies this endpoint.
type EndpointSettings struct {
	// Name is the destination of reminders routed back to this endpoint.
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
}

// ProtocolSettings controls compatibility with older senders.
type ProtocolSettings struct {
	// LegacyVersionPrefix selects the versions whose reminders carry no
	// reminder flag. Empty disables the detection.
	LegacyVersionPrefix string `mapstructure:"legacy_version_prefix" yaml:"legacy_version_prefix"`
}

// SchedulerSettings configures reminder scheduling.
type SchedulerSettings struct {
	Redis RedisSettings `mapstructure:"redis" yaml:"redis"`
}

// RedisSettings configures the Redis scheduler. An empty Addr disables it.
type RedisSettings struct {
	Addr      string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	Password  string `mapstructure:"password" yaml:"password,omitempty"`
	DB        int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisSettings) Enabled() bool {
	return r.Addr != ""
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// RegisterDefaults registers the default value of every setting.
func RegisterDefaults(m *Manager) {
	m.SetDefault("storage.root", "./sagas")
	m.SetDefault("storage.conflict_retry_delay", "100ms")
	m.SetDefault("storage.pretty_print", false)
	m.SetDefault("endpoint.name", "sagakeeper")
	m.SetDefault("protocol.legacy_version_prefix", "3.")
	m.SetDefault("scheduler.redis.addr", "")
	m.SetDefault("scheduler.redis.password", "")
	m.SetDefault("scheduler.redis.db", 0)
	m.SetDefault("scheduler.redis.key_prefix", "sagakeeper:")
	m.SetDefault("log.level", "info")
}

// Load reads, merges and validates settings.
func Load(options Options) (*Settings, error) {
	m := NewManager(options)
	RegisterDefaults(m)
	if err := m.Load(); err != nil {
		return nil, err
	}
	return FromManager(m)
}

// Defaults returns the default settings, ignoring files and environment.
func Defaults() (*Settings, error) {
	m := NewManager(Options{})
	RegisterDefaults(m)
	return FromManager(m)
}

// FromManager binds and validates the settings held by m.
func FromManager(m *Manager) (*Settings, error) {
	var settings Settings
	if err := m.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every setting and reports all violations at once.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(messages, "; "))
}

// YAML renders the settings with secrets masked.
func (s *Settings) YAML() ([]byte, error) {
	masked := *s
	if masked.Scheduler.Redis.Password != "" {
		masked.Scheduler.Redis.Password = "******"
	}
	return yaml.Marshal(&masked)
}

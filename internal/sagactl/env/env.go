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

// Package env holds the state shared by sagactl commands: global flags, the
// lazily loaded settings and output rendering.
package env

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/innovationmech/sagakeeper/pkg/config"
	"github.com/innovationmech/sagakeeper/pkg/logger"
)

// Output formats.
const (
	OutputYAML = "yaml"
	OutputJSON = "json"
)

// Env is created once per process and passed to every command.
type Env struct {
	// Global flags
	ConfigFile  string
	Environment string
	WorkDir     string
	StorageRoot string
	Output      string
	Verbose     bool

	Out io.Writer

	settings *config.Settings
}

// New returns an Env writing to stdout.
func New() *Env {
	return &Env{Output: OutputYAML, Out: os.Stdout}
}

// Settings loads the settings on first use. Flags override every other layer.
func (e *Env) Settings() (*config.Settings, error) {
	if e.settings != nil {
		return e.settings, nil
	}

	options := config.DefaultOptions()
	options.ConfigFile = e.ConfigFile
	options.EnvironmentName = e.Environment
	if e.WorkDir != "" {
		options.WorkDir = e.WorkDir
	}

	m := config.NewManager(options)
	config.RegisterDefaults(m)
	if err := m.Load(); err != nil {
		return nil, err
	}
	if e.StorageRoot != "" {
		m.Set("storage.root", e.StorageRoot)
	}
	if e.Verbose {
		m.Set("log.level", "debug")
	}

	settings, err := config.FromManager(m)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevel(settings.Log.Level); err != nil {
		return nil, err
	}
	e.settings = settings
	return settings, nil
}

// Logger returns the logger of command components.
func (e *Env) Logger() *zap.Logger {
	return logger.GetLogger().Named("sagactl")
}

// Render writes v in the selected output format.
func (e *Env) Render(v interface{}) error {
	switch e.Output {
	case OutputJSON:
		encoder := json.NewEncoder(e.Out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case OutputYAML, "":
		encoder := yaml.NewEncoder(e.Out)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported output format %q", e.Output)
	}
}

// Printf writes a line of plain text.
func (e *Env) Printf(format string, args ...interface{}) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

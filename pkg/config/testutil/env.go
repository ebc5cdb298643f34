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

// Package testutil isolates settings tests from the host: a throwaway work
// directory for layered files and a scrubbed SAGAKEEPER_ environment.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// EnvPrefix mirrors config.DefaultEnvPrefix. It is repeated here so that
// internal tests of package config can use the workspace too.
const EnvPrefix = "SAGAKEEPER"

// Workspace is a per-test settings sandbox. Everything it changes is undone
// by the test's cleanup.
type Workspace struct {
	t   *testing.T
	Dir string
}

// NewWorkspace creates a workspace in a temporary directory and removes every
// SAGAKEEPER_ variable inherited from the host environment.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w := &Workspace{t: t, Dir: t.TempDir()}
	w.ClearSettings()
	return w
}

// Chdir makes the workspace the working directory for the rest of the test.
func (w *Workspace) Chdir() {
	w.t.Helper()
	w.t.Chdir(w.Dir)
}

// Path returns the absolute path of a file in the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteFile writes raw content to name, creating parent directories.
func (w *Workspace) WriteFile(name string, content []byte) string {
	w.t.Helper()
	path := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.t.Fatalf("create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		w.t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// WriteSettings writes v as the settings file of a layer: "" is the base
// sagakeeper.yaml, "override" the override file, anything else an
// environment file such as sagakeeper.dev.yaml.
func (w *Workspace) WriteSettings(layer string, v interface{}) string {
	w.t.Helper()
	data, err := yaml.Marshal(v)
	if err != nil {
		w.t.Fatalf("marshal %s settings: %v", layerName(layer), err)
	}
	return w.WriteFile(SettingsFileName(layer), data)
}

// SettingsFileName returns the file name config.Load looks for in a layer.
func SettingsFileName(layer string) string {
	if layer == "" {
		return "sagakeeper.yaml"
	}
	return "sagakeeper." + layer + ".yaml"
}

// SetSetting overrides a settings key through the environment, e.g.
// "scheduler.redis.addr" becomes SAGAKEEPER_SCHEDULER_REDIS_ADDR.
func (w *Workspace) SetSetting(key, value string) {
	w.t.Helper()
	w.t.Setenv(EnvVar(key), value)
}

// EnvVar returns the environment variable bound to a settings key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ClearSettings unsets every SAGAKEEPER_ variable until the test ends.
func (w *Workspace) ClearSettings() {
	w.t.Helper()
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if !strings.HasPrefix(name, EnvPrefix+"_") {
			continue
		}
		// Setenv registers the restore; the variable itself must be absent.
		w.t.Setenv(name, "")
		if err := os.Unsetenv(name); err != nil {
			w.t.Fatalf("unset %s: %v", name, err)
		}
	}
}

func layerName(layer string) string {
	if layer == "" {
		return "base"
	}
	return layer
}

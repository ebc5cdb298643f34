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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

type layeredConfig struct {
	Storage struct {
		Root        string `mapstructure:"root"`
		PrettyPrint bool   `mapstructure:"pretty_print"`
	} `mapstructure:"storage"`
	Scheduler struct {
		Redis struct {
			Addr string `mapstructure:"addr"`
			DB   int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"scheduler"`
}

func TestHierarchicalPrecedence(t *testing.T) {
	t.Setenv("SAGAKEEPER_STORAGE_ROOT", "/from/env")
	t.Setenv("SAGAKEEPER_SCHEDULER_REDIS_DB", "4")

	tempDir := t.TempDir()

	writeFile(t, tempDir, "sagakeeper.yaml", `
storage:
  root: /from/base
  pretty_print: false
scheduler:
  redis:
    addr: base:6379
    db: 1
`)

	writeFile(t, tempDir, "sagakeeper.dev.yaml", `
storage:
  root: /from/dev
  pretty_print: true
scheduler:
  redis:
    addr: dev:6379
`)

	writeFile(t, tempDir, "sagakeeper.override.yaml", `
storage:
  root: /from/override
scheduler:
  redis:
    db: 3
`)

	m := NewManager(Options{
		WorkDir:            tempDir,
		ConfigBaseName:     "sagakeeper",
		ConfigType:         "yaml",
		EnvironmentName:    "dev",
		EnvPrefix:          "SAGAKEEPER",
		EnableAutomaticEnv: true,
	})
	m.SetDefault("storage.root", "/from/defaults")
	m.SetDefault("storage.pretty_print", false)
	m.SetDefault("scheduler.redis.addr", "")
	m.SetDefault("scheduler.redis.db", 0)

	require.NoError(t, m.Load())

	var cfg layeredConfig
	require.NoError(t, m.Unmarshal(&cfg))

	// defaults < base < env file < override < env vars
	assert.Equal(t, "/from/env", cfg.Storage.Root)
	assert.Equal(t, 4, cfg.Scheduler.Redis.DB)
	assert.True(t, cfg.Storage.PrettyPrint)
	assert.Equal(t, "dev:6379", cfg.Scheduler.Redis.Addr)

	m.Set("storage.root", "/from/flag")
	assert.Equal(t, "/from/flag", m.Get("storage.root"))
}

func TestMissingFilesAreIgnored(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, tempDir, "sagakeeper.yaml", `storage: { root: "/srv/sagas" }`)

	options := DefaultOptions()
	options.WorkDir = tempDir
	options.EnvironmentName = "prod"
	m := NewManager(options)

	require.NoError(t, m.Load())

	var cfg layeredConfig
	require.NoError(t, m.Unmarshal(&cfg))
	assert.Equal(t, "/srv/sagas", cfg.Storage.Root)
}

func TestExplicitConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, tempDir, "custom.yaml", `storage: { root: "/custom" }`)
	writeFile(t, tempDir, "sagakeeper.yaml", `storage: { root: "/ignored" }`)

	options := DefaultOptions()
	options.WorkDir = tempDir
	options.ConfigFile = filepath.Join(tempDir, "custom.yaml")
	m := NewManager(options)
	require.NoError(t, m.Load())
	assert.Equal(t, "/custom", m.Get("storage.root"))

	options.ConfigFile = filepath.Join(tempDir, "missing.yaml")
	assert.Error(t, NewManager(options).Load())
}

func TestMalformedFile(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, tempDir, "sagakeeper.yaml", "storage: [unclosed")

	options := DefaultOptions()
	options.WorkDir = tempDir
	err := NewManager(options).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load base config")
}

func TestUnmarshalNilTarget(t *testing.T) {
	m := NewManager(DefaultOptions())
	assert.Error(t, m.Unmarshal(nil))
}

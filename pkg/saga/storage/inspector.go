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

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// Record is an instance file decoded without its entity type, for tooling.
type Record struct {
	ID         string                 `json:"id" yaml:"id"`
	Type       string                 `json:"type" yaml:"type"`
	EntityType string                 `json:"entity_type" yaml:"entity_type"`
	Entity     map[string]interface{} `json:"entity" yaml:"entity"`
	Timeouts   []saga.Timeout         `json:"timeouts" yaml:"timeouts"`
	Path       string                 `json:"path" yaml:"path"`
}

// PendingTimeouts counts the timeouts that were not canceled.
func (r *Record) PendingTimeouts() int {
	n := 0
	for _, t := range r.Timeouts {
		if !t.Canceled {
			n++
		}
	}
	return n
}

// Inspector reads a store root without a saga registry. Directory names are
// the sanitized saga type names.
type Inspector struct {
	root string
}

// NewInspector creates an inspector over root.
func NewInspector(root string) *Inspector {
	return &Inspector{root: root}
}

// Directories returns the saga type directories below the root, sorted.
func (i *Inspector) Directories() ([]string, error) {
	entries, err := os.ReadDir(i.root)
	if err != nil {
		return nil, saga.NewStorageError("list saga types", err).WithDetail("path", i.root)
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// List returns the instance ids stored below the directory of sagaType.
func (i *Inspector) List(sagaType string) ([]string, error) {
	return listInstanceIDs(i.dir(sagaType))
}

// Read decodes one instance file. The result is nil when the file is absent.
func (i *Inspector) Read(sagaType, sagaID string) (*Record, error) {
	path := i.path(sagaType, sagaID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, saga.NewStorageError("read instance", err).WithDetail("path", path)
	}

	var stored storedInstance
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga envelope %s: %w", path, err)
	}
	record := &Record{
		ID:         stored.ID,
		Type:       stored.Type,
		EntityType: stored.EntityType,
		Timeouts:   stored.Timeouts,
		Path:       path,
	}
	if record.Timeouts == nil {
		record.Timeouts = []saga.Timeout{}
	}
	if stored.EntityAsJSON != "" {
		if err := json.Unmarshal([]byte(stored.EntityAsJSON), &record.Entity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal saga entity %s: %w", path, err)
		}
	}
	return record, nil
}

// Purge deletes one instance file. It reports whether a file was removed.
// Purging an instance that a running endpoint holds open loses its update.
func (i *Inspector) Purge(sagaType, sagaID string) (bool, error) {
	path := i.path(sagaType, sagaID)
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, saga.NewStorageError("purge instance", err).WithDetail("path", path)
	}
	return true, nil
}

func (i *Inspector) dir(sagaType string) string {
	return filepath.Join(i.root, SanitizeTypeName(sagaType))
}

func (i *Inspector) path(sagaType, sagaID string) string {
	return filepath.Join(i.dir(sagaType), sagaID+fileExtension)
}

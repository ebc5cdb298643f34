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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

const fileExtension = ".json"

var dirNameReplacer = strings.NewReplacer("+", "", "/", "", "\\", "", ":", "")

// Manifest locates the storage directory of one saga type.
type Manifest struct {
	SagaType         string
	StorageDirectory string
}

// FilePath returns the path of the file holding instance sagaID.
func (m *Manifest) FilePath(sagaID string) string {
	return filepath.Join(m.StorageDirectory, sagaID+fileExtension)
}

// ManifestCollection holds the manifests of all registered saga types.
type ManifestCollection struct {
	root      string
	manifests map[string]*Manifest
}

// NewManifestCollection creates the storage directory of every registered saga
// type below root.
func NewManifestCollection(registry *saga.Registry, root string) (*ManifestCollection, error) {
	if root == "" {
		return nil, saga.NewConfigurationError("storage root is required")
	}

	c := &ManifestCollection{root: root, manifests: make(map[string]*Manifest)}
	for _, metadata := range registry.All() {
		dir := filepath.Join(root, SanitizeTypeName(metadata.Name))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, saga.NewStorageError("create storage directory", err).WithDetail("path", dir)
		}
		c.manifests[metadata.Name] = &Manifest{SagaType: metadata.Name, StorageDirectory: dir}
	}
	return c, nil
}

// SanitizeTypeName turns a saga type name into a directory name.
func SanitizeTypeName(sagaType string) string {
	return dirNameReplacer.Replace(sagaType)
}

// Root returns the storage root directory.
func (c *ManifestCollection) Root() string {
	return c.root
}

// ForSagaType returns the manifest of sagaType.
func (c *ManifestCollection) ForSagaType(sagaType string) (*Manifest, error) {
	m, ok := c.manifests[sagaType]
	if !ok {
		return nil, saga.NewConfigurationError(fmt.Sprintf("no storage manifest for saga type '%s'", sagaType))
	}
	return m, nil
}

// List returns the ids of the instances of sagaType stored on disk, sorted.
func (c *ManifestCollection) List(sagaType string) ([]string, error) {
	m, err := c.ForSagaType(sagaType)
	if err != nil {
		return nil, err
	}
	return listInstanceIDs(m.StorageDirectory)
}

func listInstanceIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, saga.NewStorageError("list instances", err).WithDetail("path", dir)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExtension))
	}
	sort.Strings(ids)
	return ids, nil
}

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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// DefaultConflictRetryDelay is how long a conflicting open waits before its
// single retry.
const DefaultConflictRetryDelay = 100 * time.Millisecond

var (
	// ErrConcurrentCreate is returned when another creator won the race for
	// the same instance id.
	ErrConcurrentCreate = errors.New("saga instance was created concurrently")

	// ErrInstanceBusy is returned when the instance file is held by another
	// handle of this process.
	ErrInstanceBusy = errors.New("saga instance is held by another session")

	// ErrHandleReleased is returned when a released handle is used.
	ErrHandleReleased = errors.New("saga instance handle is released")

	// ErrInstanceMismatch is returned when a file holds an instance other
	// than the one it was opened for.
	ErrInstanceMismatch = errors.New("saga instance file belongs to another instance")
)

// Observer receives storage events. It is satisfied by the monitoring package.
type Observer interface {
	// ObserveConflict records an open that collided with another holder.
	ObserveConflict(sagaType string, recovered bool)

	// ObserveAction records the outcome of one applied session action.
	ObserveAction(action string, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveConflict(string, bool) {}
func (noopObserver) ObserveAction(string, error)  {}

// Options configures an InstanceStore.
type Options struct {
	// ConflictRetryDelay is the wait before retrying a conflicting open.
	ConflictRetryDelay time.Duration

	// PrettyPrint indents the JSON written to disk.
	PrettyPrint bool

	// Logger receives storage diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Observer receives storage events. Defaults to a no-op observer.
	Observer Observer
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{ConflictRetryDelay: DefaultConflictRetryDelay}
}

// InstanceStore opens saga instance files. A path is held by at most one
// Handle of the store at a time.
type InstanceStore struct {
	manifests *ManifestCollection
	registry  *saga.Registry
	opts      Options
	logger    *zap.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewInstanceStore creates a store over the given manifests.
func NewInstanceStore(manifests *ManifestCollection, registry *saga.Registry, opts Options) *InstanceStore {
	if opts.ConflictRetryDelay <= 0 {
		opts.ConflictRetryDelay = DefaultConflictRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &InstanceStore{
		manifests: manifests,
		registry:  registry,
		opts:      opts,
		logger:    opts.Logger,
		held:      make(map[string]struct{}),
	}
}

// Manifests returns the manifest collection of the store.
func (s *InstanceStore) Manifests() *ManifestCollection {
	return s.manifests
}

// Create exclusively creates the file of a new instance. If the file exists
// or is held, Create waits ConflictRetryDelay, tries once more and then fails
// with ErrConcurrentCreate.
func (s *InstanceStore) Create(ctx context.Context, sagaType, sagaID string) (*Handle, error) {
	path, err := s.path(sagaType, sagaID)
	if err != nil {
		return nil, err
	}

	h, err := s.openWithDelayOnConflict(ctx, sagaType, sagaID, path, true)
	if err != nil {
		if errors.Is(err, ErrConcurrentCreate) {
			return nil, saga.WrapError(err, saga.ErrCodeConcurrentCreate,
				fmt.Sprintf("saga '%s' instance '%s' already exists", sagaType, sagaID),
				saga.ErrorTypeConcurrency, true)
		}
		return nil, err
	}
	return h, nil
}

// Open opens the file of an existing instance. It returns a nil handle and a
// nil error when no file exists.
func (s *InstanceStore) Open(ctx context.Context, sagaType, sagaID string) (*Handle, error) {
	path, err := s.path(sagaType, sagaID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	h, err := s.openWithDelayOnConflict(ctx, sagaType, sagaID, path, false)
	if errors.Is(err, fs.ErrNotExist) {
		// completed by the previous holder while we waited
		return nil, nil
	}
	if errors.Is(err, ErrInstanceBusy) {
		return nil, saga.WrapError(err, saga.ErrCodeConcurrentCreate,
			fmt.Sprintf("saga '%s' instance '%s' is in use", sagaType, sagaID),
			saga.ErrorTypeConcurrency, true)
	}
	return h, err
}

func (s *InstanceStore) path(sagaType, sagaID string) (string, error) {
	if sagaID == "" {
		return "", saga.NewValidationError("saga id is required")
	}
	if !isFileSafeID(sagaID) {
		return "", saga.NewValidationError(fmt.Sprintf("saga id '%s' is not a valid file name", sagaID))
	}
	m, err := s.manifests.ForSagaType(sagaType)
	if err != nil {
		return "", err
	}
	return m.FilePath(sagaID), nil
}

// isFileSafeID reports whether id names a file directly inside a manifest
// directory.
func isFileSafeID(id string) bool {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return filepath.Base(id) == id && id != "."
}

func (s *InstanceStore) openWithDelayOnConflict(ctx context.Context, sagaType, sagaID, path string, create bool) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := s.tryOpen(sagaType, sagaID, path, create)
	if !isConflict(err) {
		return h, err
	}

	s.logger.Debug("saga instance file conflict, retrying",
		zap.String("saga_type", sagaType),
		zap.String("saga_id", sagaID),
		zap.Duration("delay", s.opts.ConflictRetryDelay))

	timer := time.NewTimer(s.opts.ConflictRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	h, err = s.tryOpen(sagaType, sagaID, path, create)
	s.opts.Observer.ObserveConflict(sagaType, err == nil)
	if err != nil && isConflict(err) {
		s.logger.Warn("saga instance file conflict persisted after retry",
			zap.String("saga_type", sagaType),
			zap.String("saga_id", sagaID))
	}
	return h, err
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConcurrentCreate) || errors.Is(err, ErrInstanceBusy)
}

func (s *InstanceStore) tryOpen(sagaType, sagaID, path string, create bool) (*Handle, error) {
	s.mu.Lock()
	if _, busy := s.held[path]; busy {
		s.mu.Unlock()
		if create {
			return nil, ErrConcurrentCreate
		}
		return nil, ErrInstanceBusy
	}
	s.held[path] = struct{}{}
	s.mu.Unlock()

	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		s.unhold(path)
		if create && errors.Is(err, fs.ErrExist) {
			return nil, ErrConcurrentCreate
		}
		return nil, err
	}

	return &Handle{
		store:    s,
		sagaType: sagaType,
		sagaID:   sagaID,
		path:     path,
		file:     f,
	}, nil
}

func (s *InstanceStore) unhold(path string) {
	s.mu.Lock()
	delete(s.held, path)
	s.mu.Unlock()
}

// Handle is exclusive access to one instance file.
type Handle struct {
	store    *InstanceStore
	sagaType string
	sagaID   string
	path     string

	mu        sync.Mutex
	file      *os.File
	completed bool
	released  bool
}

// SagaType returns the saga type of the instance.
func (h *Handle) SagaType() string { return h.sagaType }

// SagaID returns the instance id.
func (h *Handle) SagaID() string { return h.sagaID }

// Path returns the file path of the instance.
func (h *Handle) Path() string { return h.path }

// Read decodes the instance stored in the file.
func (h *Handle) Read(ctx context.Context) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, ErrHandleReleased
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return nil, saga.NewStorageError("seek instance file", err)
	}
	data, err := io.ReadAll(h.file)
	if err != nil {
		return nil, saga.NewStorageError("read instance file", err)
	}

	instance, err := decodeInstance(data, h.store.registry)
	if err != nil {
		return nil, saga.NewStorageError("decode instance file", err).WithDetail("path", h.path)
	}
	if instance.ID != h.sagaID || instance.Type != h.sagaType {
		return nil, saga.NewStorageError("decode instance file", ErrInstanceMismatch).
			WithDetail("path", h.path).
			WithDetail("stored_id", instance.ID).
			WithDetail("stored_type", instance.Type)
	}
	return instance, nil
}

// Write replaces the file content with instance.
func (h *Handle) Write(ctx context.Context, instance *saga.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeInstance(instance, h.store.registry, h.store.opts.PrettyPrint)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrHandleReleased
	}
	if err := h.file.Truncate(0); err != nil {
		return saga.NewStorageError("truncate instance file", err)
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return saga.NewStorageError("seek instance file", err)
	}
	if _, err := h.file.Write(data); err != nil {
		return saga.NewStorageError("write instance file", err)
	}
	if err := h.file.Sync(); err != nil {
		return saga.NewStorageError("sync instance file", err)
	}
	return nil
}

// MarkCompleted schedules deletion of the file on Release.
func (h *Handle) MarkCompleted() {
	h.mu.Lock()
	h.completed = true
	h.mu.Unlock()
}

// Completed reports whether the handle is marked completed.
func (h *Handle) Completed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed
}

// Release closes the file and deletes it if the instance completed.
// Releasing twice is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	defer h.store.unhold(h.path)

	var errs []error
	if err := h.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if h.completed {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return saga.NewStorageError("release instance file", err).WithDetail("path", h.path)
	}
	return nil
}

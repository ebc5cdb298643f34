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
	"sync"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

var (
	// ErrInstanceNotLoaded is returned when an instance is overwritten or
	// completed in a session that never opened it.
	ErrInstanceNotLoaded = errors.New("saga instance was not loaded in this session")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("storage session is closed")
)

type actionKind int

const (
	actionCreate actionKind = iota
	actionOverwrite
	actionComplete
)

func (k actionKind) String() string {
	switch k {
	case actionCreate:
		return "create"
	case actionOverwrite:
		return "overwrite"
	case actionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type deferredAction struct {
	kind     actionKind
	instance *saga.Instance
}

type handleKey struct {
	sagaType string
	sagaID   string
}

// Session is the unit of work of one message. It implements
// saga.DispatchingSession.
type Session struct {
	store  *InstanceStore
	logger *zap.Logger

	mu          sync.Mutex
	handles     map[handleKey]*Handle
	actions     []deferredAction
	afterCommit []saga.AfterCommitFunc
	closed      bool
}

var _ saga.DispatchingSession = (*Session)(nil)

// NewSession creates an empty session over store.
func NewSession(store *InstanceStore) *Session {
	return &Session{
		store:   store,
		logger:  store.logger,
		handles: make(map[handleKey]*Handle),
	}
}

// Read opens and decodes an instance, keeping its file held until Close.
// It returns nil, nil when the instance does not exist.
func (s *Session) Read(ctx context.Context, sagaType, sagaID string) (*saga.Instance, error) {
	key := handleKey{sagaType: sagaType, sagaID: sagaID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	h, ok := s.handles[key]
	s.mu.Unlock()

	if !ok {
		var err error
		h, err = s.store.Open(ctx, sagaType, sagaID)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, nil
		}
		s.mu.Lock()
		s.handles[key] = h
		s.mu.Unlock()
	}

	return h.Read(ctx)
}

// Save defers the creation of a new instance until Commit.
func (s *Session) Save(instance *saga.Instance) error {
	return s.enqueue(actionCreate, instance)
}

// Update defers an overwrite of a loaded instance until Commit.
func (s *Session) Update(instance *saga.Instance) error {
	if err := s.requireLoaded(instance); err != nil {
		return err
	}
	return s.enqueue(actionOverwrite, instance)
}

// Complete defers the completion of a loaded instance until Commit.
func (s *Session) Complete(instance *saga.Instance) error {
	if err := s.requireLoaded(instance); err != nil {
		return err
	}
	return s.enqueue(actionComplete, instance)
}

// AfterCommit queues fn until every deferred action of the session has been
// applied by Commit.
func (s *Session) AfterCommit(fn saga.AfterCommitFunc) error {
	if fn == nil {
		return saga.NewValidationError("after commit function is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.afterCommit = append(s.afterCommit, fn)
	return nil
}

// Pending returns the number of deferred actions.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func (s *Session) requireLoaded(instance *saga.Instance) error {
	if instance == nil {
		return saga.NewValidationError("saga instance is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[handleKey{sagaType: instance.Type, sagaID: instance.ID}]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrInstanceNotLoaded, instance.Type, instance.ID)
	}
	return nil
}

func (s *Session) enqueue(kind actionKind, instance *saga.Instance) error {
	if instance == nil {
		return saga.NewValidationError("saga instance is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.actions = append(s.actions, deferredAction{kind: kind, instance: instance})
	return nil
}

// Commit applies the deferred actions in order, then runs the after commit
// work. The first failed action aborts the remaining actions and drops the
// after commit work; actions already applied stay applied. The first failed
// after commit function aborts the ones queued behind it. Both queues are
// empty afterwards in either case.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	actions := s.actions
	afterCommit := s.afterCommit
	s.actions = nil
	s.afterCommit = nil
	s.mu.Unlock()

	for i, a := range actions {
		err := s.execute(ctx, a)
		s.store.opts.Observer.ObserveAction(a.kind.String(), err)
		if err != nil {
			s.logger.Error("storage session commit aborted",
				zap.String("action", a.kind.String()),
				zap.String("saga_type", a.instance.Type),
				zap.String("saga_id", a.instance.ID),
				zap.Int("applied", i),
				zap.Int("total", len(actions)),
				zap.Error(err))
			if len(afterCommit) > 0 {
				s.logger.Warn("dropping after commit work of a failed commit",
					zap.Int("dropped", len(afterCommit)))
			}
			return saga.NewCommitFailedError(i, len(actions), err)
		}
	}

	for i, fn := range afterCommit {
		if err := fn(ctx); err != nil {
			s.logger.Error("after commit work failed",
				zap.Int("completed", i),
				zap.Int("total", len(afterCommit)),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Session) execute(ctx context.Context, a deferredAction) error {
	key := handleKey{sagaType: a.instance.Type, sagaID: a.instance.ID}

	switch a.kind {
	case actionCreate:
		s.mu.Lock()
		_, exists := s.handles[key]
		s.mu.Unlock()
		if exists {
			return fmt.Errorf("%w: %s/%s", ErrConcurrentCreate, a.instance.Type, a.instance.ID)
		}

		h, err := s.store.Create(ctx, a.instance.Type, a.instance.ID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.handles[key] = h
		s.mu.Unlock()
		return h.Write(ctx, a.instance)

	case actionOverwrite, actionComplete:
		s.mu.Lock()
		h, ok := s.handles[key]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrInstanceNotLoaded, a.instance.Type, a.instance.ID)
		}
		if a.kind == actionComplete {
			h.MarkCompleted()
			return nil
		}
		return h.Write(ctx, a.instance)
	}
	return fmt.Errorf("unknown session action %d", a.kind)
}

// Close releases every held handle, deleting the files of completed
// instances. Uncommitted actions are dropped. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := s.handles
	s.handles = make(map[handleKey]*Handle)
	dropped := len(s.actions) + len(s.afterCommit)
	s.actions = nil
	s.afterCommit = nil
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Debug("storage session closed with uncommitted work", zap.Int("dropped", dropped))
	}

	var errs []error
	for _, h := range handles {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

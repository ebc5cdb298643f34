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

// Package store provides commands that inspect and repair the on-disk
// instance store.
package store

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakeeper/internal/sagactl/env"
	"github.com/innovationmech/sagakeeper/pkg/saga/storage"
)

// InstanceSummary is one line of `sagactl list`.
type InstanceSummary struct {
	ID              string `json:"id" yaml:"id"`
	EntityType      string `json:"entity_type" yaml:"entity_type"`
	PendingTimeouts int    `json:"pending_timeouts" yaml:"pending_timeouts"`
}

// NewTypesCommand creates the 'types' command.
func NewTypesCommand(e *env.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the saga types present in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, err := newInspector(e)
			if err != nil {
				return err
			}
			dirs, err := inspector.Directories()
			if err != nil {
				return err
			}
			return e.Render(dirs)
		},
	}
}

// NewListCommand creates the 'list' command.
func NewListCommand(e *env.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list <saga-type>",
		Short: "List the stored instances of a saga type",
		Long: `List the instances of a saga type that have not completed.

Examples:
  sagactl list OrderSaga
  sagactl list OrderSaga --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, err := newInspector(e)
			if err != nil {
				return err
			}
			ids, err := inspector.List(args[0])
			if err != nil {
				return err
			}

			summaries := make([]InstanceSummary, 0, len(ids))
			for _, id := range ids {
				record, err := inspector.Read(args[0], id)
				if err != nil {
					return err
				}
				if record == nil {
					continue // completed while listing
				}
				summaries = append(summaries, InstanceSummary{
					ID:              record.ID,
					EntityType:      record.EntityType,
					PendingTimeouts: record.PendingTimeouts(),
				})
			}
			return e.Render(summaries)
		},
	}
}

// NewShowCommand creates the 'show' command.
func NewShowCommand(e *env.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <saga-type> <saga-id>",
		Short: "Print one stored instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, err := newInspector(e)
			if err != nil {
				return err
			}
			record, err := inspector.Read(args[0], args[1])
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("saga %s with id %s is not stored", args[0], args[1])
			}
			return e.Render(record)
		},
	}
}

// NewPurgeCommand creates the 'purge' command.
func NewPurgeCommand(e *env.Env) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "purge <saga-type> <saga-id>",
		Short: "Delete a stored instance",
		Long: `Delete the file of a stored instance, as if the saga had completed.

Pending reminders of the instance are not canceled; use 'sagactl deferred cancel'.
Stop endpoints hosting the saga first: an endpoint holding the instance open
would lose its update.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to purge %s/%s without --yes", args[0], args[1])
			}
			inspector, err := newInspector(e)
			if err != nil {
				return err
			}
			removed, err := inspector.Purge(args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				e.Printf("%s/%s is not stored", args[0], args[1])
				return nil
			}
			e.Logger().Info("purged saga instance",
				zap.String("saga_type", args[0]),
				zap.String("saga_id", args[1]))
			e.Printf("purged %s/%s", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm the deletion")
	return cmd
}

func newInspector(e *env.Env) (*storage.Inspector, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}
	return storage.NewInspector(settings.Storage.Root), nil
}

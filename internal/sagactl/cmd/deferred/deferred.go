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

// Package deferred provides commands for the reminders held by the Redis
// scheduler.
package deferred

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/innovationmech/sagakeeper/internal/sagactl/env"
	"github.com/innovationmech/sagakeeper/pkg/saga/scheduler"
)

// ErrSchedulerDisabled is returned when no Redis address is configured.
var ErrSchedulerDisabled = errors.New("scheduler.redis.addr is not configured")

// NewDeferredCommand creates the 'deferred' command group.
func NewDeferredCommand(e *env.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deferred",
		Short: "Inspect and cancel deferred reminders",
	}
	cmd.AddCommand(newPendingCommand(e), newCancelCommand(e))
	return cmd
}

func newPendingCommand(e *env.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of reminders not yet delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), e, func(ctx context.Context, s *scheduler.RedisScheduler) error {
				pending, err := s.Pending(ctx)
				if err != nil {
					return err
				}
				return e.Render(map[string]int64{"pending": pending})
			})
		},
	}
}

func newCancelCommand(e *env.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <saga-id>",
		Short: "Cancel every pending reminder of a saga instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), e, func(ctx context.Context, s *scheduler.RedisScheduler) error {
				if err := s.CancelDeferredMessages(ctx, args[0]); err != nil {
					return err
				}
				e.Printf("canceled reminders of %s", args[0])
				return nil
			})
		},
	}
}

func withScheduler(ctx context.Context, e *env.Env, fn func(context.Context, *scheduler.RedisScheduler) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	redisSettings := settings.Scheduler.Redis
	if !redisSettings.Enabled() {
		return ErrSchedulerDisabled
	}

	client, err := scheduler.Dial(ctx, redisSettings.Addr, redisSettings.Password, redisSettings.DB)
	if err != nil {
		return err
	}
	defer client.Close()

	s := scheduler.NewRedisScheduler(client, scheduler.Options{
		KeyPrefix: redisSettings.KeyPrefix,
		Endpoint:  settings.Endpoint.Name,
		Logger:    e.Logger(),
	})
	defer s.Close()
	return fn(ctx, s)
}

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

// Package retry computes redelivery schedules for deferred saga messages.
package retry

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned when a retry configuration is invalid.
var ErrInvalidConfig = errors.New("invalid retry configuration")

// RetryConfig describes how a failed delivery is retried.
type RetryConfig struct {
	// MaxAttempts is the number of failed deliveries after which a message
	// is given up. Zero retries forever.
	MaxAttempts int

	// InitialDelay is the delay after the first failed delivery.
	InitialDelay time.Duration

	// MaxDelay caps every delay.
	MaxDelay time.Duration

	// NonRetryableErrors end retrying as soon as a delivery fails with one
	// of them (matched with errors.Is).
	NonRetryableErrors []error
}

// Validate checks the configuration.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return ErrInvalidConfig
	}
	if c.InitialDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxDelay < c.InitialDelay {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultRetryConfig retries forever, starting at 5s and capped at 5m.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
	}
}

// IsRetryableError reports whether err leaves the message eligible for
// another delivery.
func (c *RetryConfig) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	for _, fatal := range c.NonRetryableErrors {
		if errors.Is(err, fatal) {
			return false
		}
	}
	return true
}

// RetryPolicy decides whether and when a failed delivery is attempted again.
type RetryPolicy interface {
	// ShouldRetry reports whether another delivery follows the given number
	// of failed ones.
	ShouldRetry(err error, attempts int) bool

	// GetRetryDelay returns the wait after the given number of failed
	// deliveries.
	GetRetryDelay(attempts int) time.Duration

	// GetMaxAttempts returns the attempt limit, zero for none.
	GetMaxAttempts() int
}

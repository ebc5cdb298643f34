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

package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffPolicy_GetRetryDelay(t *testing.T) {
	policy := NewExponentialBackoffPolicy(&RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}, 2.0, 0)

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
		{5000, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.GetRetryDelay(tt.attempts), "attempts %d", tt.attempts)
	}
}

func TestExponentialBackoffPolicy_Multiplier(t *testing.T) {
	policy := NewExponentialBackoffPolicy(&RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Minute,
	}, 1.5, 0)

	assert.Equal(t, 100*time.Millisecond, policy.GetRetryDelay(1))
	assert.Equal(t, 150*time.Millisecond, policy.GetRetryDelay(2))
	assert.Equal(t, 225*time.Millisecond, policy.GetRetryDelay(3))

	doubling := NewExponentialBackoffPolicy(nil, 0.5, 0)
	assert.Equal(t, 2.0, doubling.Multiplier)
	assert.Equal(t, 5*time.Second, doubling.GetRetryDelay(1))
	assert.Equal(t, 10*time.Second, doubling.GetRetryDelay(2))
}

func TestExponentialBackoffPolicy_WithJitter(t *testing.T) {
	config := &RetryConfig{InitialDelay: 10 * time.Second, MaxDelay: time.Minute}

	t.Run("clamped", func(t *testing.T) {
		assert.Equal(t, 1.0, NewExponentialBackoffPolicy(config, 2, 3).Jitter)
		assert.Equal(t, 0.0, NewExponentialBackoffPolicy(config, 2, -1).Jitter)
	})

	t.Run("proportional bounds", func(t *testing.T) {
		policy := NewExponentialBackoffPolicy(config, 2, 0.2)
		for i := 0; i < 200; i++ {
			delay := policy.GetRetryDelay(4)
			assert.LessOrEqual(t, delay, time.Minute, "jitter never exceeds the cap")
			assert.GreaterOrEqual(t, delay, 48*time.Second)
		}
	})

	t.Run("proportional extremes", func(t *testing.T) {
		policy := NewExponentialBackoffPolicy(config, 2, 0.2)
		policy.random = func() float64 { return 0 }
		assert.Equal(t, 20*time.Second, policy.GetRetryDelay(2))
		policy.random = func() float64 { return 0.5 }
		assert.Equal(t, 18*time.Second, policy.GetRetryDelay(2))
	})

	t.Run("equal", func(t *testing.T) {
		policy := NewExponentialBackoffPolicy(config, 2, 1)
		policy.JitterType = JitterTypeEqual
		policy.random = func() float64 { return 0 }
		assert.Equal(t, 5*time.Second, policy.GetRetryDelay(1))
		policy.random = func() float64 { return 0.5 }
		assert.Equal(t, 7500*time.Millisecond, policy.GetRetryDelay(1))
	})

	t.Run("spreads delays", func(t *testing.T) {
		policy := NewExponentialBackoffPolicy(config, 2, 0.5)
		seen := make(map[time.Duration]struct{})
		for i := 0; i < 20; i++ {
			seen[policy.GetRetryDelay(1)] = struct{}{}
		}
		assert.Greater(t, len(seen), 1)
	})
}

func TestExponentialBackoffPolicy_ShouldRetry(t *testing.T) {
	errGone := errors.New("destination gone")
	policy := NewExponentialBackoffPolicy(&RetryConfig{
		MaxAttempts:        3,
		InitialDelay:       time.Second,
		MaxDelay:           time.Minute,
		NonRetryableErrors: []error{errGone},
	}, 2, 0)

	tests := []struct {
		name     string
		err      error
		attempts int
		expected bool
	}{
		{"first failure", assert.AnError, 1, true},
		{"below limit", assert.AnError, 2, true},
		{"limit reached", assert.AnError, 3, false},
		{"non retryable", errGone, 1, false},
		{"wrapped non retryable", errors.Join(assert.AnError, errGone), 1, false},
		{"no error", nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.ShouldRetry(tt.err, tt.attempts))
		})
	}

	assert.Equal(t, 3, policy.GetMaxAttempts())
	unlimited := NewExponentialBackoffPolicy(nil, 2, 0)
	assert.True(t, unlimited.ShouldRetry(assert.AnError, 10000))
	assert.Zero(t, unlimited.GetMaxAttempts())
}

func TestRetryConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryConfig().Validate())

	invalid := []*RetryConfig{
		{MaxAttempts: -1, InitialDelay: time.Second, MaxDelay: time.Second},
		{InitialDelay: 0, MaxDelay: time.Second},
		{InitialDelay: time.Minute, MaxDelay: time.Second},
	}
	for _, config := range invalid {
		assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)
	}
}

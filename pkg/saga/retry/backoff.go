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
	"math"
	"math/rand"
	"time"
)

// JitterType selects how randomness is folded into a delay.
type JitterType int

const (
	// JitterTypeProportional shortens the delay by up to Jitter of itself:
	// delay * (1 - Jitter*random(0, 1)).
	JitterTypeProportional JitterType = iota

	// JitterTypeEqual keeps half of the delay and randomizes the rest:
	// delay/2 + random(0, delay/2).
	JitterTypeEqual
)

// ExponentialBackoffPolicy multiplies the delay with every failed delivery.
// Jitter spreads messages that failed together so that pollers do not
// redeliver them in the same instant.
//
// Formula: min(InitialDelay * Multiplier^(attempts-1), MaxDelay), then jitter.
type ExponentialBackoffPolicy struct {
	Config *RetryConfig

	// Multiplier is the growth factor, at least 1.
	Multiplier float64

	// Jitter is the random share of a delay, between 0 and 1.
	Jitter float64

	JitterType JitterType

	// random returns values in [0, 1). Defaults to math/rand.
	random func() float64
}

// NewExponentialBackoffPolicy creates a policy. A nil config uses
// DefaultRetryConfig, a multiplier below 1 doubles and jitter is clamped to
// [0, 1].
func NewExponentialBackoffPolicy(config *RetryConfig, multiplier, jitter float64) *ExponentialBackoffPolicy {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	jitter = math.Max(0, math.Min(1, jitter))

	return &ExponentialBackoffPolicy{
		Config:     config,
		Multiplier: multiplier,
		Jitter:     jitter,
		JitterType: JitterTypeProportional,
		random:     rand.Float64,
	}
}

// ShouldRetry implements RetryPolicy.
func (p *ExponentialBackoffPolicy) ShouldRetry(err error, attempts int) bool {
	if p.Config.MaxAttempts > 0 && attempts >= p.Config.MaxAttempts {
		return false
	}
	return p.Config.IsRetryableError(err)
}

// GetRetryDelay implements RetryPolicy. The result never exceeds MaxDelay.
func (p *ExponentialBackoffPolicy) GetRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	base := float64(p.Config.InitialDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if maxDelay := float64(p.Config.MaxDelay); p.Config.MaxDelay > 0 && (base > maxDelay || math.IsInf(base, 1)) {
		base = maxDelay
	}

	return time.Duration(p.applyJitter(base))
}

// GetMaxAttempts implements RetryPolicy.
func (p *ExponentialBackoffPolicy) GetMaxAttempts() int {
	return p.Config.MaxAttempts
}

func (p *ExponentialBackoffPolicy) applyJitter(delay float64) float64 {
	if p.Jitter == 0 {
		return delay
	}
	random := p.random
	if random == nil {
		random = rand.Float64
	}

	switch p.JitterType {
	case JitterTypeEqual:
		half := delay / 2
		return half + random()*half
	default:
		return delay * (1 - p.Jitter*random())
	}
}

var _ RetryPolicy = (*ExponentialBackoffPolicy)(nil)

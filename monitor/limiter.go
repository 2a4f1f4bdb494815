// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigplane/httpconn/internal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTargetLatency  = 500 * time.Millisecond
	defaultMaxRate        = 1000
	defaultMinRate        = 10
	defaultAdjustInterval = 2 * time.Second
	defaultDecreaseFactor = 0.9
	defaultIncreaseFactor = 1.05
)

// LimiterConfig configures a Limiter. Zero values select defaults.
type LimiterConfig struct {
	// TargetLatency is reported through TargetLatencyMicros. Defaults to
	// 500ms.
	TargetLatency time.Duration
	// InitialRate, MinRate and MaxRate bound the admitted requests per
	// second. The initial rate defaults to MaxRate.
	InitialRate float64
	MinRate     float64
	MaxRate     float64
	// Burst is the number of requests admitted at once. Defaults to 10% of
	// MaxRate, and at least 1.
	Burst int
	// AdjustInterval is how often the rate is re-evaluated.
	AdjustInterval time.Duration
	// DecreaseFactor multiplies the rate after an interval with penalties;
	// IncreaseFactor multiplies it after a quiet one.
	DecreaseFactor float64
	IncreaseFactor float64
}

func (c *LimiterConfig) applyDefaults() {
	if c.TargetLatency <= 0 {
		c.TargetLatency = defaultTargetLatency
	}
	if c.MaxRate <= 0 {
		c.MaxRate = defaultMaxRate
	}
	if c.MinRate <= 0 || c.MinRate > c.MaxRate {
		c.MinRate = min(defaultMinRate, c.MaxRate)
	}
	if c.InitialRate <= 0 || c.InitialRate > c.MaxRate {
		c.InitialRate = c.MaxRate
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.MaxRate/10))
	}
	if c.AdjustInterval <= 0 {
		c.AdjustInterval = defaultAdjustInterval
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = defaultDecreaseFactor
	}
	if c.IncreaseFactor <= 1 {
		c.IncreaseFactor = defaultIncreaseFactor
	}
}

// Limiter is a LoadMonitor that admits requests through a token bucket and
// shrinks the bucket's rate while penalties are being reported.
type Limiter struct {
	config  LimiterConfig
	clock   internal.Clock
	log     *zap.Logger
	limiter *rate.Limiter

	penalties atomic.Int64

	mu sync.Mutex
	// +checklocks:mu
	lastAdjust time.Time
}

var (
	_ LoadMonitor = (*Limiter)(nil)
	_ Admitter    = (*Limiter)(nil)
)

// NewLimiter creates a Limiter.
func NewLimiter(config LimiterConfig, logger *zap.Logger) *Limiter {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := internal.NewRealClock()
	return &Limiter{
		config:     config,
		clock:      clock,
		log:        logger,
		limiter:    rate.NewLimiter(rate.Limit(config.InitialRate), config.Burst),
		lastAdjust: clock.Now(),
	}
}

// TargetLatencyMicros implements LoadMonitor.
func (l *Limiter) TargetLatencyMicros() int {
	return int(l.config.TargetLatency / time.Microsecond)
}

// IncrementPenalties implements LoadMonitor.
func (l *Limiter) IncrementPenalties() {
	l.penalties.Add(1)
}

// Admit implements Admitter. The rate is re-evaluated first, so penalties
// reported since the last interval take effect.
func (l *Limiter) Admit() bool {
	now := l.clock.Now()
	l.adjust(now)
	return l.limiter.AllowN(now, 1)
}

// Rate returns the currently admitted requests per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

func (l *Limiter) adjust(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastAdjust) < l.config.AdjustInterval {
		return
	}
	l.lastAdjust = now
	current := float64(l.limiter.Limit())
	var next float64
	if penalties := l.penalties.Swap(0); penalties > 0 {
		next = max(l.config.MinRate, current*l.config.DecreaseFactor)
		l.log.Debug("penalties received, reducing admission rate",
			zap.Int64("penalties", penalties),
			zap.Float64("rate", next))
	} else {
		next = min(l.config.MaxRate, current*l.config.IncreaseFactor)
	}
	if next != current {
		l.limiter.SetLimitAt(now, rate.Limit(next))
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds publish rate limiting configuration.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`             // messages per second per channel
	Burst           int           `yaml:"burst"`            // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // cleanup interval for idle channels
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Rate:            1000,
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
	}
}

// ChannelLimiter limits the publish rate for each channel independently.
type ChannelLimiter struct {
	mu       sync.Mutex
	limiters map[string]*channelEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type channelEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewChannelLimiter creates a per-channel limiter.
// r is messages per second, burst is the burst allowance.
func NewChannelLimiter(r float64, burst int, cleanupInterval time.Duration) *ChannelLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultConfig().CleanupInterval
	}
	l := &ChannelLimiter{
		limiters: make(map[string]*channelEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// New builds a limiter from cfg. It returns nil when limiting is disabled.
func New(cfg Config) *ChannelLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewChannelLimiter(cfg.Rate, cfg.Burst, cfg.CleanupInterval)
}

// Allow reports whether one more message may be published to channel now.
// A nil limiter allows everything.
func (l *ChannelLimiter) Allow(channel string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	entry, exists := l.limiters[channel]
	if !exists {
		entry = &channelEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[channel] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked channels.
func (l *ChannelLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *ChannelLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *ChannelLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ch, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ch)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *ChannelLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
}

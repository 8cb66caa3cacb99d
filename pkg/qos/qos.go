// Package qos watches translation latency per listener and decides when
// to stop sending synthesized audio and fall back to subtitles only.
package qos

import (
	"sync"
	"time"
)

// DegradationLevel 品质劣化等级
type DegradationLevel string

const (
	LevelNone     DegradationLevel = "none"
	LevelLight    DegradationLevel = "light"    // 轻度，延迟偏高
	LevelModerate DegradationLevel = "moderate" // 中度，建议只走字幕
	LevelSevere   DegradationLevel = "severe"   // 重度，停发语音
)

const historySize = 20

// Metrics is one completed measurement.
type Metrics struct {
	Start              time.Time
	End                time.Time
	Latency            time.Duration
	Jitter             time.Duration
	Level              DegradationLevel
	FallbackToSubtitle bool
}

// Controller measures per-utterance latency and jitter. One controller
// per connection; the pipeline touches it from worker goroutines, so it
// locks internally.
type Controller struct {
	MaxLatency time.Duration
	MaxJitter  time.Duration

	mu          sync.Mutex
	history     []time.Duration
	lastLatency time.Duration
}

func NewController(maxLatency, maxJitter time.Duration) *Controller {
	return &Controller{
		MaxLatency: maxLatency,
		MaxJitter:  maxJitter,
	}
}

// Start begins a measurement.
func (c *Controller) Start() *Metrics {
	return &Metrics{Start: time.Now()}
}

// End closes the measurement and classifies it:
//
//	latency <= max          NONE
//	<= 1.5x max             LIGHT
//	<= 2x max               MODERATE (fallback)
//	>  2x max               SEVERE   (fallback)
//
// Jitter above 2x the jitter limit forces fallback regardless of band.
func (c *Controller) End(m *Metrics) *Metrics {
	m.End = time.Now()
	m.Latency = m.End.Sub(m.Start)

	c.mu.Lock()
	if c.lastLatency > 0 {
		m.Jitter = m.Latency - c.lastLatency
		if m.Jitter < 0 {
			m.Jitter = -m.Jitter
		}
	}
	c.history = append(c.history, m.Latency)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	c.lastLatency = m.Latency
	c.mu.Unlock()

	switch {
	case m.Latency > c.MaxLatency*2:
		m.Level = LevelSevere
		m.FallbackToSubtitle = true
	case m.Latency > c.MaxLatency*3/2:
		m.Level = LevelModerate
		m.FallbackToSubtitle = true
	case m.Latency > c.MaxLatency:
		m.Level = LevelLight
	default:
		m.Level = LevelNone
	}

	if m.Jitter > c.MaxJitter*2 {
		m.FallbackToSubtitle = true
	}

	return m
}

// AverageLatency 平均延迟
func (c *Controller) AverageLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range c.history {
		sum += l
	}
	return sum / time.Duration(len(c.history))
}

// IsStable reports whether recent latencies stay within the jitter limit
// of their average. Fewer than 5 samples counts as stable.
func (c *Controller) IsStable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) < 5 {
		return true
	}
	var sum time.Duration
	for _, l := range c.history {
		sum += l
	}
	avg := sum / time.Duration(len(c.history))
	for _, l := range c.history {
		d := l - avg
		if d < 0 {
			d = -d
		}
		if d >= c.MaxJitter {
			return false
		}
	}
	return true
}

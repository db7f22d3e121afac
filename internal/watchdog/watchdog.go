// Package watchdog periodically samples the poller's own resource usage
// and exposes it as a health signal, grounded on the teacher's
// internal/monitor threshold-and-status pattern (sourceHealth tracking
// consecutive failures before flipping status) but applied to gopsutil
// process stats instead of external agent churn, since this service has
// no child processes to watch. Unlike sourceHealth, health here follows
// the latest sample alone: one failed or over-threshold sample flips it.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/reapergt/poller/internal/metrics"
)

// Sample is one resource reading of the poller's own process.
type Sample struct {
	RSSBytes   uint64
	CPUPercent float64
	SampledAt  time.Time
}

// Config bounds the thresholds at which the watchdog reports itself
// unhealthy.
type Config struct {
	PollInterval  time.Duration
	MaxRSSBytes   uint64
	MaxCPUPercent float64
}

// Watchdog samples the current process's RSS and CPU usage on an
// interval and reports health against configured thresholds. It
// implements opshttp.HealthChecker.
type Watchdog struct {
	proc   *process.Process
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	last    Sample
	lastErr error
}

// New constructs a Watchdog bound to the current OS process.
func New(cfg Config, logger zerolog.Logger) (*Watchdog, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("watchdog: resolve self process: %w", err)
	}
	return &Watchdog{proc: proc, cfg: cfg, logger: logger}, nil
}

// Run samples on cfg.PollInterval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sampleOnce()
		}
	}
}

func (w *Watchdog) sampleOnce() {
	sample, err := w.sample()

	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.last = sample
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn().Err(err).Msg("watchdog: sample failed")
		return
	}

	metrics.RecordProcessSample(sample.RSSBytes, sample.CPUPercent)

	if w.cfg.MaxRSSBytes > 0 && sample.RSSBytes > w.cfg.MaxRSSBytes {
		w.logger.Warn().
			Uint64("rss_bytes", sample.RSSBytes).
			Uint64("max_rss_bytes", w.cfg.MaxRSSBytes).
			Msg("watchdog: RSS above threshold")
	}
	if w.cfg.MaxCPUPercent > 0 && sample.CPUPercent > w.cfg.MaxCPUPercent {
		w.logger.Warn().
			Float64("cpu_percent", sample.CPUPercent).
			Float64("max_cpu_percent", w.cfg.MaxCPUPercent).
			Msg("watchdog: CPU above threshold")
	}
}

func (w *Watchdog) sample() (Sample, error) {
	memInfo, err := w.proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("watchdog: read memory info: %w", err)
	}
	cpuPct, err := w.proc.CPUPercent()
	if err != nil {
		return Sample{}, fmt.Errorf("watchdog: read cpu percent: %w", err)
	}
	return Sample{RSSBytes: memInfo.RSS, CPUPercent: cpuPct, SampledAt: time.Now()}, nil
}

// LastSample returns the most recently collected sample and whether one
// has been taken yet.
func (w *Watchdog) LastSample() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, !w.last.SampledAt.IsZero()
}

// Healthy reports whether the last sample is within configured
// thresholds. It satisfies opshttp.HealthChecker.
func (w *Watchdog) Healthy() (bool, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.lastErr != nil {
		return false, fmt.Sprintf("watchdog sample failed: %v", w.lastErr)
	}
	if w.last.SampledAt.IsZero() {
		return true, ""
	}
	if w.cfg.MaxRSSBytes > 0 && w.last.RSSBytes > w.cfg.MaxRSSBytes {
		return false, fmt.Sprintf("rss %d exceeds max %d", w.last.RSSBytes, w.cfg.MaxRSSBytes)
	}
	if w.cfg.MaxCPUPercent > 0 && w.last.CPUPercent > w.cfg.MaxCPUPercent {
		return false, fmt.Sprintf("cpu %.1f%% exceeds max %.1f%%", w.last.CPUPercent, w.cfg.MaxCPUPercent)
	}
	return true, ""
}

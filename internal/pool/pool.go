package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dhruvsoni1802/devtools-rpc/internal/browser"
)

const MaxPoolSize = 10

// LaunchFunc starts one browser and returns once it accepts connections
type LaunchFunc func(ctx context.Context) (Browser, error)

// ProcessPool manages a pool of browser processes
type ProcessPool struct {
	processes []*ManagedProcess // Pool of browser processes
	mu        sync.RWMutex      // Protects processes slice
}

// PoolMetrics contains metrics about the entire pool
type PoolMetrics struct {
	TotalProcesses int              `json:"total_processes"`
	TotalSessions  int64            `json:"total_sessions"`
	Processes      []ProcessMetrics `json:"processes"`
}

// NewProcessPool launches poolSize headless Chromium processes
func NewProcessPool(ctx context.Context, chromiumPath string, poolSize int) (*ProcessPool, error) {
	return NewProcessPoolWith(ctx, poolSize, func(ctx context.Context) (Browser, error) {
		process, err := browser.Launch(ctx, chromiumPath)
		if err != nil {
			return nil, err
		}
		return process, nil
	})
}

// NewProcessPoolWith builds a pool of poolSize browsers started by launch
func NewProcessPoolWith(ctx context.Context, poolSize int, launch LaunchFunc) (*ProcessPool, error) {
	// Validate pool size
	if poolSize < 1 || poolSize > MaxPoolSize {
		return nil, fmt.Errorf("pool size must be between 1 and %d, got %d", MaxPoolSize, poolSize)
	}

	// Create process pool
	pool := &ProcessPool{
		processes: make([]*ManagedProcess, 0, poolSize),
	}

	// Start managed processes
	for i := 0; i < poolSize; i++ {
		b, err := launch(ctx)
		if err != nil {
			// Cleanup on failure - stop all processes started so far
			slog.Error("failed to start process, cleaning up", "index", i, "error", err)
			pool.Shutdown()
			return nil, fmt.Errorf("failed to start process %d: %w", i, err)
		}

		// Track the browser with a session count of zero
		process := newManagedProcess(b)
		pool.processes = append(pool.processes, process)
		slog.Info("started browser process", "index", i, "target", process.Target())
	}

	slog.Info("process pool initialized", "size", poolSize)
	return pool, nil
}

// GetProcesses returns a copy of all processes (for monitoring)
func (p *ProcessPool) GetProcesses() []*ManagedProcess {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Return a copy to prevent external modification
	processes := make([]*ManagedProcess, len(p.processes))
	copy(processes, p.processes)
	return processes
}

// GetProcessCount returns the number of processes in the pool
func (p *ProcessPool) GetProcessCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.processes)
}

// Shutdown stops all processes in the pool (best effort)
func (p *ProcessPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Stop all processes, counting failures but continuing
	failed := 0
	for i, process := range p.processes {
		if err := process.Stop(); err != nil {
			slog.Warn("failed to stop process", "index", i, "target", process.Target(), "error", err)
			failed++
		} else {
			slog.Info("process stopped", "index", i, "target", process.Target())
		}
	}

	// Clear the slice even if some processes failed to stop
	p.processes = p.processes[:0]

	if failed > 0 {
		slog.Warn("shutdown completed with errors", "failed_count", failed)
		return fmt.Errorf("failed to stop %d processes", failed)
	}

	slog.Info("all processes shut down successfully")
	return nil
}

// GetMetrics returns metrics for the entire pool
func (p *ProcessPool) GetMetrics() PoolMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var totalSessions int64
	processMetrics := make([]ProcessMetrics, len(p.processes))

	// Collect per-process metrics and sum the session counts
	for i, process := range p.processes {
		metrics := process.GetMetrics()
		processMetrics[i] = metrics
		totalSessions += metrics.SessionCount
	}

	return PoolMetrics{
		TotalProcesses: len(p.processes),
		TotalSessions:  totalSessions,
		Processes:      processMetrics,
	}
}

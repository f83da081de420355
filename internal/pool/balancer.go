package pool

import (
	"fmt"
	"log/slog"
	"sync"
)

// LoadBalancer spreads new debugger sessions over the pooled browsers
type LoadBalancer struct {
	pool *ProcessPool
	mu   sync.Mutex // Serialises select-and-increment
}

// NewLoadBalancer creates a new load balancer
func NewLoadBalancer(pool *ProcessPool) *LoadBalancer {
	return &LoadBalancer{
		pool: pool,
	}
}

// SelectProcess returns the healthy process with the fewest sessions
func (lb *LoadBalancer) SelectProcess() (*ManagedProcess, error) {
	processes := lb.pool.GetProcesses()
	if len(processes) == 0 {
		return nil, fmt.Errorf("no processes in the pool")
	}

	var selected *ManagedProcess
	var minSessions int64 = -1

	for _, process := range processes {
		if !process.IsHealthy() {
			slog.Warn("skipping unhealthy process", "target", process.Target())
			continue
		}

		sessionCount := process.GetSessionCount()
		if minSessions == -1 || sessionCount < minSessions {
			minSessions = sessionCount
			selected = process
		}
	}

	if selected == nil {
		return nil, fmt.Errorf("no healthy processes in the pool")
	}

	slog.Debug("selected process",
		"target", selected.Target(),
		"current_sessions", selected.GetSessionCount())

	return selected, nil
}

// Pick selects a process and counts a session against it
func (lb *LoadBalancer) Pick() (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	process, err := lb.SelectProcess()
	if err != nil {
		return "", err
	}
	process.IncrementSessionCount()
	return process.Target(), nil
}

// Release returns a session slot taken by Pick
func (lb *LoadBalancer) Release(target string) {
	for _, process := range lb.pool.GetProcesses() {
		if process.Target() == target {
			process.DecrementSessionCount()
			return
		}
	}
	slog.Warn("released target is not in the pool", "target", target)
}

// GetMetrics returns the pool metrics
func (lb *LoadBalancer) GetMetrics() PoolMetrics {
	return lb.pool.GetMetrics()
}

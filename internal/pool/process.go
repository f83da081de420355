package pool

import (
	"sync/atomic"
	"time"

	"github.com/dhruvsoni1802/devtools-rpc/internal/browser"
)

// Browser is a running debuggable browser the pool can hand sessions to
type Browser interface {
	DevToolsTarget() string
	IsAlive() bool
	GetPID() int
	Stop() error
}

// ManagedProcess tracks one pooled browser and the sessions attached to it
type ManagedProcess struct {
	browser      Browser
	target       string
	startedAt    time.Time
	sessionCount atomic.Int64
}

// ProcessMetrics contains metrics about one pooled browser
type ProcessMetrics struct {
	Target       string    `json:"target"`
	PID          int       `json:"pid"`
	Healthy      bool      `json:"healthy"`
	SessionCount int64     `json:"session_count"`
	StartedAt    time.Time `json:"started_at"`
}

func newManagedProcess(b Browser) *ManagedProcess {
	return &ManagedProcess{
		browser:   b,
		target:    b.DevToolsTarget(),
		startedAt: time.Now(),
	}
}

// Target returns the host:port of the browser's DevTools endpoint
func (p *ManagedProcess) Target() string {
	return p.target
}

// IsHealthy reports whether the browser process is still running
func (p *ManagedProcess) IsHealthy() bool {
	return p.browser.IsAlive()
}

func (p *ManagedProcess) GetSessionCount() int64 {
	return p.sessionCount.Load()
}

func (p *ManagedProcess) IncrementSessionCount() {
	p.sessionCount.Add(1)
}

// DecrementSessionCount never drops the count below zero
func (p *ManagedProcess) DecrementSessionCount() {
	for {
		current := p.sessionCount.Load()
		if current <= 0 {
			return
		}
		if p.sessionCount.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Stop terminates the browser
func (p *ManagedProcess) Stop() error {
	return p.browser.Stop()
}

// GetMetrics returns a snapshot of the process state
func (p *ManagedProcess) GetMetrics() ProcessMetrics {
	return ProcessMetrics{
		Target:       p.target,
		PID:          p.browser.GetPID(),
		Healthy:      p.IsHealthy(),
		SessionCount: p.GetSessionCount(),
		StartedAt:    p.startedAt,
	}
}

// compile-time check that launched browsers can be pooled
var _ Browser = (*browser.Process)(nil)

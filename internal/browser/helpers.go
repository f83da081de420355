package browser

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
)

const (
	MinPortRange = 9222 // Chrome's default debug port
	MaxPortRange = 9272 // 50 ports for browser processes
)

// PortPool hands out debug ports from a fixed range. A port is verified to
// be bindable before it is handed out.
type PortPool struct {
	min, max  int
	mu        sync.Mutex
	freeStack []string
	freeSet   map[string]bool // Tracks which ports are available
}

// NewPortPool creates a pool of the ports in [min, max)
func NewPortPool(min, max int) *PortPool {
	p := &PortPool{
		min:     min,
		max:     max,
		freeSet: make(map[string]bool, max-min),
	}
	// Push in reverse so the lowest port is handed out first
	for i := max - 1; i >= min; i-- {
		port := strconv.Itoa(i)
		p.freeStack = append(p.freeStack, port)
		p.freeSet[port] = true
	}
	return p
}

var defaultPool = NewPortPool(MinPortRange, MaxPortRange)

// IsPortAvailable checks if a port is available by attempting to listen on it
func IsPortAvailable(port string) bool {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// Acquire retrieves an available port from the pool
func (p *PortPool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Try ports from the stack until we find an available one
	for len(p.freeStack) > 0 {
		port := p.freeStack[len(p.freeStack)-1]
		p.freeStack = p.freeStack[:len(p.freeStack)-1]
		delete(p.freeSet, port)

		if IsPortAvailable(port) {
			slog.Debug("allocated port from pool", "port", port, "remaining", len(p.freeStack))
			return port, nil
		}

		// Port was in use by another process, try next one
		slog.Debug("port in use by external process", "port", port)
	}

	return "", fmt.Errorf("no free ports available in pool")
}

// Release returns a port back to the pool for reuse
func (p *PortPool) Release(port string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	portInt, err := strconv.Atoi(port)
	if err != nil || portInt < p.min || portInt >= p.max {
		slog.Warn("attempted to return invalid port", "port", port)
		return
	}

	if p.freeSet[port] {
		slog.Warn("port already in pool, ignoring duplicate return", "port", port)
		return
	}

	p.freeStack = append(p.freeStack, port)
	p.freeSet[port] = true
	slog.Debug("returned port to pool", "port", port, "available", len(p.freeStack))
}

// Stats returns current pool statistics
func (p *PortPool) Stats() (total, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max - p.min, len(p.freeStack)
}

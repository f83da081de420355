package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
)

type ProcessStatus string

const (
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusStopped  ProcessStatus = "stopped"
	StatusFailed   ProcessStatus = "failed"
)

// Interval between /json/version checks while waiting for the browser
const readyPollInterval = 100 * time.Millisecond

type Process struct {
	BinaryPath  string        // Path to the chromium binary
	DebugPort   int           // Port for debugging
	UserDataDir string        // Directory for user data
	Cmd         *exec.Cmd     // Command to execute the chromium browser
	StartedAt   time.Time     // Time when the process started
	Status      ProcessStatus // Status of the process

	pool *PortPool
}

// NewProcess creates a new browser process configuration.
// It allocates a free port from the default pool and creates a temp directory.
func NewProcess(binaryPath string) (*Process, error) {
	return newProcess(binaryPath, defaultPool)
}

func newProcess(binaryPath string, pool *PortPool) (*Process, error) {
	// Get a free port from the pool
	debugPort, err := pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("failed to get free port: %w", err)
	}

	// Convert port string to int
	debugPortInt, err := strconv.Atoi(debugPort)
	if err != nil {
		// Return port since we're failing
		pool.Release(debugPort)
		return nil, fmt.Errorf("failed to convert port to int: %w", err)
	}

	// Create temporary directory for browser profile
	userDataDir, err := os.MkdirTemp("", "chromium-*")
	if err != nil {
		// Return port since we're failing
		pool.Release(debugPort)
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Process{
		BinaryPath:  binaryPath,
		DebugPort:   debugPortInt,
		UserDataDir: userDataDir,
		Status:      StatusStarting,
		pool:        pool,
	}, nil
}

// Launch starts a headless browser and waits until its DevTools endpoint
// answers
func Launch(ctx context.Context, binaryPath string) (*Process, error) {
	// Allocate the port and profile directory
	p, err := NewProcess(binaryPath)
	if err != nil {
		return nil, err
	}

	// Start the process, giving the port back if it never ran
	if err := p.Start(); err != nil {
		p.release()
		return nil, err
	}

	// Wait for the DevTools endpoint, stopping the browser if it never answers
	if err := p.WaitReady(ctx); err != nil {
		if stopErr := p.Stop(); stopErr != nil {
			slog.Warn("failed to stop browser after startup failure", "error", stopErr)
		}
		return nil, err
	}

	slog.Info("browser launched", "pid", p.GetPID(), "port", p.DebugPort)
	return p, nil
}

// buildFlags constructs the command-line flags for Chrome
func (p *Process) buildFlags() []string {
	return []string{
		"--headless=new", // Run in headless mode (no GUI)
		fmt.Sprintf("--remote-debugging-port=%d", p.DebugPort), // Enable DevTools Protocol on this port
		"--no-sandbox",            // Disable sandbox (needed in containers)
		"--disable-gpu",           // Disable GPU acceleration
		"--disable-dev-shm-usage", // Overcome limited resource problems
		"--no-first-run",
		fmt.Sprintf("--user-data-dir=%s", p.UserDataDir), // Where browser stores its data
		"about:blank", // Open one page target to attach to
	}
}

// Start launches the browser process with appropriate flags
func (p *Process) Start() error {
	// Build command with all flags
	p.Cmd = exec.Command(p.BinaryPath, p.buildFlags()...)

	// Start the process
	if err := p.Cmd.Start(); err != nil {
		p.Status = StatusFailed
		return fmt.Errorf("failed to start browser process: %w", err)
	}

	// Update status and start time
	p.Status = StatusRunning
	p.StartedAt = time.Now()

	return nil
}

// WaitReady polls /json/version until the DevTools endpoint answers or ctx
// ends
func (p *Process) WaitReady(ctx context.Context) error {
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	port := strconv.Itoa(p.DebugPort)
	for {
		// Ask the endpoint for its version, any answer means it is up
		info, err := cdp.GetVersion(ctx, client, "localhost", port)
		if err == nil {
			slog.Debug("browser endpoint ready", "port", p.DebugPort, "browser", info.Browser)
			return nil
		}

		// Give up when ctx ends, otherwise poll again on the next tick
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser on port %d not ready: %w", p.DebugPort, errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}

// Stop gracefully terminates the browser process
func (p *Process) Stop() error {
	if p.Cmd == nil || p.Cmd.Process == nil {
		return fmt.Errorf("process was never started")
	}

	// Send SIGTERM for graceful shutdown
	if err := p.Cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send termination signal: %w", err)
	}

	// Wait for process to exit with timeout
	done := make(chan error, 1)
	go func() {
		done <- p.Cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("process exit error: %w", err)
		}
	case <-time.After(5 * time.Second):
		// Timeout exceeded - force kill
		if err := p.Cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to force kill process: %w", err)
		}
	}

	// Update status and hand back the port and profile directory
	p.Status = StatusStopped
	p.release()
	return nil
}

// release removes the profile directory and returns the port to the pool
func (p *Process) release() {
	// Delete the temporary profile
	if err := os.RemoveAll(p.UserDataDir); err != nil {
		slog.Warn("failed to remove user data directory", "dir", p.UserDataDir, "error", err)
	}
	// Return the port once, a second release is a no-op
	if p.pool != nil {
		p.pool.Release(strconv.Itoa(p.DebugPort))
		p.pool = nil
	}
}

// IsAlive checks if the process is still running
func (p *Process) IsAlive() bool {
	if p.Cmd == nil || p.Cmd.Process == nil {
		return false
	}

	// Send signal 0 - checks existence without affecting the process
	err := p.Cmd.Process.Signal(syscall.Signal(0))
	return err == nil
}

// GetPID returns the process ID if the process is running
func (p *Process) GetPID() int {
	if p.Cmd != nil && p.Cmd.Process != nil {
		return p.Cmd.Process.Pid
	}
	return 0
}

// DevToolsTarget returns the host:port of the DevTools endpoint
func (p *Process) DevToolsTarget() string {
	return fmt.Sprintf("localhost:%d", p.DebugPort)
}

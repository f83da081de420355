package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	//HTTP server configuration
	ServerPort string

	//Debugger endpoint configuration
	DevToolsHost string
	DevToolsPort string
	ProtocolPath string // Comma separated protocol files to load instead of the bundled one

	//Browser configuration
	LaunchBrowser   bool
	ChromiumPath    string
	BrowserPoolSize int // Browsers launched when LaunchBrowser is set

	//Session configuration
	MaxSessions        int
	SessionIdleTimeout time.Duration
	CleanupInterval    time.Duration
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	EventBufferSize    int
	EventJournalSize   int // Events kept per session in Redis

	//Redis configuration, an empty address disables persistence
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DevToolsHost: getEnv("DEVTOOLS_HOST", "localhost"),
		DevToolsPort: getEnv("DEVTOOLS_PORT", "9222"),
		ProtocolPath: getEnv("PROTOCOL_PATH", ""),

		LaunchBrowser:   getEnvAsBool("LAUNCH_BROWSER", false),
		BrowserPoolSize: getEnvAsInt("BROWSER_POOL_SIZE", 1),

		MaxSessions:        getEnvAsInt("MAX_SESSIONS", 100),
		SessionIdleTimeout: getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Minute),
		ConnectTimeout:     getEnvAsDuration("CONNECT_TIMEOUT", 10*time.Second),
		CommandTimeout:     getEnvAsDuration("COMMAND_TIMEOUT", 0),
		EventBufferSize:    getEnvAsInt("EVENT_BUFFER_SIZE", 500),
		EventJournalSize:   getEnvAsInt("EVENT_JOURNAL_SIZE", 5000),

		// Redis defaults
		RedisAddr:     getEnvAllowEmpty("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 1*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// The Chromium binary only matters when we launch it ourselves
	if cfg.LaunchBrowser {
		chromiumPath, err := findChromium()
		if err != nil {
			return nil, err
		}
		cfg.ChromiumPath = chromiumPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("MAX_SESSIONS must be at least 1, got %d", c.MaxSessions)
	}
	if c.BrowserPoolSize < 1 || c.BrowserPoolSize > 10 {
		return fmt.Errorf("BROWSER_POOL_SIZE must be between 1 and 10, got %d", c.BrowserPoolSize)
	}
	if c.EventBufferSize < 1 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be at least 1, got %d", c.EventBufferSize)
	}
	if c.EventJournalSize < 1 {
		return fmt.Errorf("EVENT_JOURNAL_SIZE must be at least 1, got %d", c.EventJournalSize)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must not be negative, got %s", c.CommandTimeout)
	}
	if _, err := strconv.Atoi(c.DevToolsPort); err != nil {
		return fmt.Errorf("DEVTOOLS_PORT must be a number, got %q", c.DevToolsPort)
	}
	return nil
}

// ProtocolPaths splits ProtocolPath into its files, e.g.
// "browser_protocol.json,js_protocol.json"
func (c *Config) ProtocolPaths() []string {
	var paths []string
	for _, path := range strings.Split(c.ProtocolPath, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// DevToolsTarget returns the host:port of the debugger endpoint
func (c *Config) DevToolsTarget() string {
	return c.DevToolsHost + ":" + c.DevToolsPort
}

func getEnv(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvAllowEmpty treats a variable that is set but empty as a real value
func getEnvAllowEmpty(key string, defaultVal string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return boolVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return duration
}

// Function to find the Chromium binary path
func findChromium() (string, error) {

	// Check if CHROMIUM_PATH environment variable is set
	customPath := os.Getenv("CHROMIUM_PATH")
	if customPath != "" {

		// Validate the custom path exists
		if !fileExists(customPath) {
			return "", fmt.Errorf("chromium binary not found at path: %s", customPath)
		}

		// Validate the custom path is executable
		if !isExecutable(customPath) {
			return "", fmt.Errorf("chromium binary found but not executable: %s", customPath)
		}
		return customPath, nil
	}

	currentOS := runtime.GOOS

	// Search through common paths for this OS
	for _, path := range getChromiumPaths(currentOS) {
		if fileExists(path) && isExecutable(path) {
			return path, nil
		}
	}

	// If we get here, chromium wasn't found anywhere
	return "", fmt.Errorf("chromium not found in common paths for %s, set CHROMIUM_PATH environment variable", currentOS)
}

// getChromiumPaths returns common Chromium installation paths based on OS.
func getChromiumPaths(operatingSystem string) []string {
	switch operatingSystem {
	case "darwin":
		return []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		}
	case "linux":
		return []string{
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/usr/bin/google-chrome",
			"/snap/bin/chromium",
		}
	default:
		return []string{}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&0o111 != 0
}

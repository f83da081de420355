package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
)

// Target represents a debuggable target (page, worker, ...) listed by the
// DevTools HTTP endpoint
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Description          string `json:"description,omitempty"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the answer of /json/version
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version,omitempty"`
	WebKitVersion        string `json:"WebKit-Version,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListTargets queries http://host:port/json/list.
func ListTargets(ctx context.Context, client *http.Client, host, port string) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, client, endpoint(host, port, "/json/list"), &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// GetVersion queries http://host:port/json/version.
func GetVersion(ctx context.Context, client *http.Client, host, port string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, client, endpoint(host, port, "/json/version"), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// BrowserWebSocketURL returns the browser-level debugger URL.
func BrowserWebSocketURL(ctx context.Context, client *http.Client, host, port string) (string, error) {
	info, err := GetVersion(ctx, client, host, port)
	if err != nil {
		return "", err
	}

	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no browser WebSocket URL found")
	}

	return info.WebSocketDebuggerURL, nil
}

// PageWebSocketURL returns the debugger URL of the first page target.
func PageWebSocketURL(ctx context.Context, client *http.Client, host, port string) (string, error) {
	targets, err := ListTargets(ctx, client, host, port)
	if err != nil {
		return "", err
	}

	//Edge case to check if the target list is empty
	if len(targets) == 0 {
		return "", fmt.Errorf("no targets available - browser may still be starting")
	}

	for _, target := range targets {
		if target.Type == "page" && target.WebSocketDebuggerURL != "" {
			return target.WebSocketDebuggerURL, nil
		}
	}

	return "", fmt.Errorf("no page target found")
}

// FetchProtocol downloads the descriptor the browser itself serves at
// /json/protocol.
func FetchProtocol(ctx context.Context, client *http.Client, host, port string) (*protocol.Descriptor, error) {
	body, err := get(ctx, client, endpoint(host, port, "/json/protocol"))
	if err != nil {
		return nil, err
	}
	return protocol.Parse(body)
}

// ResolveTarget turns a Connect target into a WebSocket URL. ws:// and
// wss:// URLs are returned unchanged; host:port (optionally prefixed with
// http://) resolves to the first page target of that endpoint.
func ResolveTarget(ctx context.Context, client *http.Client, target string) (string, error) {
	if IsWebSocketURL(target) {
		return target, nil
	}

	host, port, err := SplitEndpoint(target)
	if err != nil {
		return "", err
	}

	if client == nil {
		client = http.DefaultClient
	}
	return PageWebSocketURL(ctx, client, host, port)
}

// IsWebSocketURL reports whether target names a debugger WebSocket directly
func IsWebSocketURL(target string) bool {
	return strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://")
}

// SplitEndpoint splits a host:port target, optionally prefixed with http://
// and suffixed with a slash.
func SplitEndpoint(target string) (host, port string, err error) {
	hostPort := strings.TrimPrefix(strings.TrimPrefix(target, "http://"), "https://")
	hostPort = strings.TrimSuffix(hostPort, "/")
	host, port, err = net.SplitHostPort(hostPort)
	if err != nil {
		return "", "", fmt.Errorf("target must be a ws:// URL or host:port: %w", err)
	}
	return host, port, nil
}

// TargetWebSocketURL derives the debugger URL of a page target from the
// browser-level debugger URL of the same browser.
func TargetWebSocketURL(browserURL, targetID string) (string, error) {
	u, err := url.Parse(browserURL)
	if err != nil {
		return "", fmt.Errorf("invalid browser URL %q: %w", browserURL, err)
	}
	if u.Host == "" || targetID == "" {
		return "", fmt.Errorf("cannot derive a page URL from %q and target %q", browserURL, targetID)
	}

	u.Path = "/devtools/page/" + targetID
	return u.String(), nil
}

func endpoint(host, port, path string) string {
	// Default to localhost if host is not provided
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := get(ctx, client, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response from %s: %w", url, err)
	}
	return nil
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to debug endpoint: %w", err)
	}
	defer response.Body.Close()

	// Check if response status is OK
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from %s: %d", url, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

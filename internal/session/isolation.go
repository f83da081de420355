package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
)

// isolatedPage is a blank page opened in a browser context of its own. The
// browser-level connection is kept so the context can be disposed later.
type isolatedPage struct {
	browser   *cdp.Session
	contextID string
	targetID  string
	pageURL   string
}

// openIsolatedPage creates a browser context on the browser at endpoint
// (host:port) and opens a blank page in it
func (m *Manager) openIsolatedPage(ctx context.Context, endpoint string, opts []cdp.Option) (page *isolatedPage, err error) {
	host, port, err := cdp.SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	// Step 1: Find the browser-level debugger URL
	browserURL, err := cdp.BrowserWebSocketURL(ctx, m.httpClient, host, port)
	if err != nil {
		return nil, &cdp.TransportError{Op: "discover", URL: endpoint, Err: err}
	}

	// Step 2: Connect to the browser itself
	browser, err := cdp.Connect(ctx, browserURL, m.desc, opts...)
	if err != nil {
		return nil, err
	}
	if err := browser.WaitOpen(ctx); err != nil {
		_ = browser.Close()
		return nil, err
	}

	page = &isolatedPage{browser: browser}
	defer func() {
		if err != nil {
			if disposeErr := page.dispose(); disposeErr != nil {
				slog.Warn("failed to clean up browser context", "context_id", page.contextID, "error", disposeErr)
			}
			page = nil
		}
	}()

	// Step 3: Create a browser context for the session
	result, err := browser.Call(ctx, "Target.createBrowserContext", map[string]any{"disposeOnDetach": true})
	if err != nil {
		return page, fmt.Errorf("failed to create browser context: %w", err)
	}
	var contextResponse struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := json.Unmarshal(result, &contextResponse); err != nil || contextResponse.BrowserContextID == "" {
		return page, fmt.Errorf("failed to parse browser context response: %s", result)
	}
	page.contextID = contextResponse.BrowserContextID

	// Step 4: Open a blank page in that context
	result, err = browser.Call(ctx, "Target.createTarget", map[string]any{
		"url":              "about:blank",
		"browserContextId": page.contextID,
	})
	if err != nil {
		return page, fmt.Errorf("failed to create target: %w", err)
	}
	var targetResponse struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(result, &targetResponse); err != nil || targetResponse.TargetID == "" {
		return page, fmt.Errorf("failed to parse create target response: %s", result)
	}
	page.targetID = targetResponse.TargetID

	// Step 5: Work out where the page listens
	page.pageURL, err = cdp.TargetWebSocketURL(browserURL, page.targetID)
	if err != nil {
		return page, err
	}

	return page, nil
}

// dispose closes the page's browser context, and every page in it, then the
// browser-level connection
func (p *isolatedPage) dispose() error {
	var errs []error

	if p.contextID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
		_, err := p.browser.Call(ctx, "Target.disposeBrowserContext", map[string]any{"browserContextId": p.contextID})
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to dispose browser context %s: %w", p.contextID, err))
		}
	}

	if err := p.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp/cdptest"
)

func TestListTargets(t *testing.T) {
	srv := cdptest.NewServer(nil)
	defer srv.Close()
	host, port := srv.HostPort()

	targets, err := ListTargets(context.Background(), nil, host, port)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "service_worker", targets[0].Type)
	assert.Equal(t, cdptest.PageID, targets[1].ID)
	assert.Equal(t, srv.PageURL(), targets[1].WebSocketDebuggerURL)
}

func TestGetVersion(t *testing.T) {
	srv := cdptest.NewServer(nil)
	defer srv.Close()
	host, port := srv.HostPort()

	info, err := GetVersion(context.Background(), http.DefaultClient, host, port)
	require.NoError(t, err)
	assert.Equal(t, "1.3", info.ProtocolVersion)

	url, err := BrowserWebSocketURL(context.Background(), nil, host, port)
	require.NoError(t, err)
	assert.Equal(t, srv.BrowserURL(), url)
}

func TestPageWebSocketURL(t *testing.T) {
	srv := cdptest.NewServer(nil)
	defer srv.Close()
	host, port := srv.HostPort()

	url, err := PageWebSocketURL(context.Background(), nil, host, port)
	require.NoError(t, err)
	assert.Equal(t, srv.PageURL(), url, "non-page targets are skipped")
}

func TestPageWebSocketURLErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr string
	}{
		{name: "empty list", body: `[]`, status: http.StatusOK, wantErr: "no targets available"},
		{name: "no page", body: `[{"id":"w","type":"worker","webSocketDebuggerUrl":"ws://x/w"}]`, status: http.StatusOK, wantErr: "no page target found"},
		{name: "bad json", body: `{`, status: http.StatusOK, wantErr: "failed to parse JSON"},
		{name: "server error", body: ``, status: http.StatusInternalServerError, wantErr: "unexpected status code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			host, port, _ := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
			_, err := PageWebSocketURL(context.Background(), srv.Client(), host, port)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFetchProtocol(t *testing.T) {
	srv := cdptest.NewServer(testDescriptor())
	defer srv.Close()
	host, port := srv.HostPort()

	desc, err := FetchProtocol(context.Background(), nil, host, port)
	require.NoError(t, err)
	require.Len(t, desc.Domains, 3)
	assert.Equal(t, "Network", desc.Domains[1].Name)

	missing := cdptest.NewServer(nil)
	defer missing.Close()
	host, port = missing.HostPort()
	_, err = FetchProtocol(context.Background(), nil, host, port)
	assert.Error(t, err)
}

func TestResolveTarget(t *testing.T) {
	srv := cdptest.NewServer(nil)
	defer srv.Close()
	ctx := context.Background()

	for _, target := range []string{"ws://127.0.0.1:9222/devtools/page/X", "wss://example.com/devtools/browser"} {
		got, err := ResolveTarget(ctx, nil, target)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	}

	for _, target := range []string{srv.Addr(), "http://" + srv.Addr(), "http://" + srv.Addr() + "/"} {
		got, err := ResolveTarget(ctx, nil, target)
		require.NoError(t, err, target)
		assert.Equal(t, srv.PageURL(), got)
	}

	_, err := ResolveTarget(ctx, nil, "not a target")
	assert.Error(t, err)
}

func TestTargetWebSocketURL(t *testing.T) {
	got, err := TargetWebSocketURL("ws://127.0.0.1:9222/devtools/browser/B1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/page/T1", got)

	_, err = TargetWebSocketURL("/devtools/browser/B1", "T1")
	assert.Error(t, err)
	_, err = TargetWebSocketURL("ws://127.0.0.1:9222/devtools/browser/B1", "")
	assert.Error(t, err)
}

func TestSplitEndpoint(t *testing.T) {
	host, port, err := SplitEndpoint("http://localhost:9222/")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, "9222", port)

	_, _, err = SplitEndpoint("localhost")
	assert.Error(t, err)
	assert.True(t, IsWebSocketURL("wss://example.com/devtools/page/X"))
	assert.False(t, IsWebSocketURL("localhost:9222"))
}

func TestConnectUnresolvableTarget(t *testing.T) {
	_, err := Connect(context.Background(), "localhost", testDescriptor(), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve target")
}

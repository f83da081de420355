package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, maxEvents int) (*SessionRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewSessionRepository(client, time.Hour, maxEvents), mr
}

func testState(id string) *SessionState {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &SessionState{
		SessionID:      id,
		TargetURL:      "ws://localhost:9222/devtools/page/ABC",
		Status:         "active",
		CreatedAt:      created,
		LastActivity:   created.Add(time.Minute),
		Subscriptions:  []string{"Network.requestWillBeSent"},
		CommandsSent:   3,
		EventsReceived: 1,
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, "127.0.0.1:1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestSaveAndGetSession(t *testing.T) {
	repo, mr := newTestRepository(t, 10)
	ctx := context.Background()

	state := testState("sess_1")
	require.NoError(t, repo.SaveSession(ctx, state))

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, state.SessionID, got.SessionID)
	assert.Equal(t, state.TargetURL, got.TargetURL)
	assert.Equal(t, "active", got.Status)
	assert.True(t, state.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, state.LastActivity.Equal(got.LastActivity))
	assert.Equal(t, []string{"Network.requestWillBeSent"}, got.Subscriptions)
	assert.Equal(t, int64(3), got.CommandsSent)
	assert.Equal(t, int64(1), got.EventsReceived)

	assert.Equal(t, time.Hour, mr.TTL("session:sess_1"))
	ids, err := repo.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_1"}, ids)
}

func TestSaveSessionReplacesSubscriptions(t *testing.T) {
	repo, _ := newTestRepository(t, 10)
	ctx := context.Background()

	state := testState("sess_1")
	require.NoError(t, repo.SaveSession(ctx, state))

	state.Subscriptions = []string{"Page.loadEventFired"}
	require.NoError(t, repo.SaveSession(ctx, state))

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Page.loadEventFired"}, got.Subscriptions)
}

func TestSaveSessionValidates(t *testing.T) {
	repo, _ := newTestRepository(t, 10)

	err := repo.SaveSession(context.Background(), &SessionState{SessionID: "sess_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_url is required")
}

func TestGetSessionNotFound(t *testing.T) {
	repo, _ := newTestRepository(t, 10)

	_, err := repo.GetSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestDeleteSession(t *testing.T) {
	repo, mr := newTestRepository(t, 10)
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, testState("sess_1")))
	require.NoError(t, repo.AppendEvent(ctx, "sess_1", EventRecord{Method: "Page.loadEventFired"}))
	require.NoError(t, repo.DeleteSession(ctx, "sess_1"))

	assert.False(t, mr.Exists("session:sess_1"))
	assert.False(t, mr.Exists("session:sess_1:subscriptions"))
	assert.False(t, mr.Exists("session:sess_1:events"))

	ids, err := repo.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCloseSession(t *testing.T) {
	repo, mr := newTestRepository(t, 10)
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, testState("sess_1")))
	require.NoError(t, repo.AppendEvent(ctx, "sess_1", EventRecord{Method: "Page.loadEventFired"}))
	mr.FastForward(30 * time.Minute)
	require.NoError(t, repo.CloseSession(ctx, "sess_1", "closed"))

	ids, err := repo.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, time.Hour, mr.TTL("session:sess_1"))

	events, err := repo.RecentEvents(ctx, "sess_1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, time.Hour, mr.TTL("session:sess_1:events"))
}

func TestUpdateLastActivityRefreshesTTL(t *testing.T) {
	repo, mr := newTestRepository(t, 10)
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, testState("sess_1")))
	mr.FastForward(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, mr.TTL("session:sess_1"))

	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastActivity(ctx, "sess_1", at))
	assert.Equal(t, time.Hour, mr.TTL("session:sess_1"))

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastActivity))
}

func TestSessionExpires(t *testing.T) {
	repo, mr := newTestRepository(t, 10)
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, testState("sess_1")))
	mr.FastForward(2 * time.Hour)

	_, err := repo.GetSession(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStatusAndSubscriptions(t *testing.T) {
	repo, _ := newTestRepository(t, 10)
	ctx := context.Background()

	state := testState("sess_1")
	state.Subscriptions = nil
	require.NoError(t, repo.SaveSession(ctx, state))

	require.NoError(t, repo.UpdateStatus(ctx, "sess_1", "disconnected"))
	require.NoError(t, repo.AddSubscription(ctx, "sess_1", "Network.responseReceived"))
	require.NoError(t, repo.AddSubscription(ctx, "sess_1", "Network.responseReceived"))
	require.NoError(t, repo.AddSubscription(ctx, "sess_1", "Page.loadEventFired"))
	require.NoError(t, repo.RemoveSubscription(ctx, "sess_1", "Page.loadEventFired"))
	require.NoError(t, repo.IncrementCommands(ctx, "sess_1"))

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", got.Status)
	assert.Equal(t, []string{"Network.responseReceived"}, got.Subscriptions)
	assert.Equal(t, int64(4), got.CommandsSent)
}

func TestEventJournal(t *testing.T) {
	repo, mr := newTestRepository(t, 3)
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, testState("sess_1")))
	for i := 0; i < 5; i++ {
		ev := EventRecord{
			Method:     "Network.requestWillBeSent",
			Params:     json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			ReceivedAt: time.Now().UTC(),
		}
		require.NoError(t, repo.AppendEvent(ctx, "sess_1", ev))
	}

	events, err := repo.RecentEvents(ctx, "sess_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3, "journal is trimmed to maxEvents")
	assert.JSONEq(t, `{"n":2}`, string(events[0].Params))
	assert.JSONEq(t, `{"n":4}`, string(events[2].Params))

	events, err = repo.RecentEvents(ctx, "sess_1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"n":3}`, string(events[0].Params))

	assert.Equal(t, time.Hour, mr.TTL("session:sess_1:events"))

	got, err := repo.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.EventsReceived)

	events, err = repo.RecentEvents(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeSessionsKey = "active:sessions"

// Hash fields of session:<id>
const (
	fieldSessionID      = "session_id"
	fieldTargetURL      = "target_url"
	fieldStatus         = "status"
	fieldCreatedAt      = "created_at"
	fieldLastActivity   = "last_activity"
	fieldCommandsSent   = "commands_sent"
	fieldEventsReceived = "events_received"
)

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func subscriptionsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:subscriptions", sessionID)
}

func eventsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// This struct handles session persistence in Redis
type SessionRepository struct {
	redis     *RedisClient  // The Redis client to use for persistence
	ttl       time.Duration // TTL of every session key, refreshed on activity
	maxEvents int64         // Length the event journal is trimmed to
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(redisClient *RedisClient, ttl time.Duration, maxEvents int) *SessionRepository {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	return &SessionRepository{
		redis:     redisClient,
		ttl:       ttl,
		maxEvents: int64(maxEvents),
	}
}

// SaveSession persists session state to Redis using a hash, plus a set for
// the subscriptions
func (r *SessionRepository) SaveSession(ctx context.Context, state *SessionState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid session state: %w", err)
	}

	key := sessionKey(state.SessionID)
	fields := map[string]interface{}{
		fieldSessionID:      state.SessionID,
		fieldTargetURL:      state.TargetURL,
		fieldStatus:         state.Status,
		fieldCreatedAt:      state.CreatedAt.Format(time.RFC3339Nano),
		fieldLastActivity:   state.LastActivity.Format(time.RFC3339Nano),
		fieldCommandsSent:   state.CommandsSent,
		fieldEventsReceived: state.EventsReceived,
	}

	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)

		subKey := subscriptionsKey(state.SessionID)
		pipe.Del(ctx, subKey)
		if len(state.Subscriptions) > 0 {
			members := make([]interface{}, len(state.Subscriptions))
			for i, s := range state.Subscriptions {
				members[i] = s
			}
			pipe.SAdd(ctx, subKey, members...)
			pipe.Expire(ctx, subKey, r.ttl)
		}

		pipe.SAdd(ctx, activeSessionsKey, state.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	slog.Debug("session saved to Redis", "session_id", state.SessionID)
	return nil
}

// GetSession retrieves session state from Redis
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	data, err := r.redis.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	// Empty map means not found
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	state := &SessionState{
		SessionID: data[fieldSessionID],
		TargetURL: data[fieldTargetURL],
		Status:    data[fieldStatus],
	}

	if createdAt, err := time.Parse(time.RFC3339Nano, data[fieldCreatedAt]); err == nil {
		state.CreatedAt = createdAt
	}
	if lastActivity, err := time.Parse(time.RFC3339Nano, data[fieldLastActivity]); err == nil {
		state.LastActivity = lastActivity
	}
	if n, err := strconv.ParseInt(data[fieldCommandsSent], 10, 64); err == nil {
		state.CommandsSent = n
	}
	if n, err := strconv.ParseInt(data[fieldEventsReceived], 10, 64); err == nil {
		state.EventsReceived = n
	}

	subs, err := r.redis.client.SMembers(ctx, subscriptionsKey(sessionID)).Result()
	if err != nil {
		slog.Warn("failed to load subscriptions", "session_id", sessionID, "error", err)
	} else if len(subs) > 0 {
		state.Subscriptions = subs
	}

	return state, nil
}

// ListActiveSessions returns all active session IDs
func (r *SessionRepository) ListActiveSessions(ctx context.Context) ([]string, error) {
	sessions, err := r.redis.client.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the session and everything stored with it
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID), subscriptionsKey(sessionID), eventsKey(sessionID))
		pipe.SRem(ctx, activeSessionsKey, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Debug("session deleted from Redis", "session_id", sessionID)
	return nil
}

// CloseSession records the final status of a session and drops it from the
// active set. Its keys stay readable until the TTL runs out.
func (r *SessionRepository) CloseSession(ctx context.Context, sessionID, status string) error {
	key := sessionKey(sessionID)

	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldStatus, status)
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, subscriptionsKey(sessionID), r.ttl)
		pipe.Expire(ctx, eventsKey(sessionID), r.ttl)
		pipe.SRem(ctx, activeSessionsKey, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	slog.Debug("session closed in Redis", "session_id", sessionID, "status", status)
	return nil
}

// UpdateLastActivity updates just the last activity timestamp and refreshes
// the TTL of the session keys
func (r *SessionRepository) UpdateLastActivity(ctx context.Context, sessionID string, at time.Time) error {
	key := sessionKey(sessionID)

	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldLastActivity, at.Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, subscriptionsKey(sessionID), r.ttl)
		pipe.Expire(ctx, eventsKey(sessionID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update last activity: %w", err)
	}
	return nil
}

// UpdateStatus records a status change, e.g. active to disconnected
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID, status string) error {
	if err := r.redis.client.HSet(ctx, sessionKey(sessionID), fieldStatus, status).Err(); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// AddSubscription records a subscribed event name
func (r *SessionRepository) AddSubscription(ctx context.Context, sessionID, event string) error {
	key := subscriptionsKey(sessionID)
	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, event)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}
	return nil
}

// RemoveSubscription forgets a subscribed event name
func (r *SessionRepository) RemoveSubscription(ctx context.Context, sessionID, event string) error {
	if err := r.redis.client.SRem(ctx, subscriptionsKey(sessionID), event).Err(); err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

// IncrementCommands bumps the commands_sent counter
func (r *SessionRepository) IncrementCommands(ctx context.Context, sessionID string) error {
	if err := r.redis.client.HIncrBy(ctx, sessionKey(sessionID), fieldCommandsSent, 1).Err(); err != nil {
		return fmt.Errorf("failed to count command: %w", err)
	}
	return nil
}

// AppendEvent adds an event to the session journal, trims it to the newest
// maxEvents entries and bumps the events_received counter
func (r *SessionRepository) AppendEvent(ctx context.Context, sessionID string, ev EventRecord) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventsKey(sessionID)
	_, err = r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -r.maxEvents, -1)
		pipe.Expire(ctx, key, r.ttl)
		pipe.HIncrBy(ctx, sessionKey(sessionID), fieldEventsReceived, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit of the newest journal entries, oldest
// first. limit <= 0 returns the whole journal.
func (r *SessionRepository) RecentEvents(ctx context.Context, sessionID string, limit int) ([]EventRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := r.redis.client.LRange(ctx, eventsKey(sessionID), start, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]EventRecord, 0, len(raw))
	for _, item := range raw {
		var ev EventRecord
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			slog.Warn("skipping malformed journal entry", "session_id", sessionID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhruvsoni1802/devtools-rpc/internal/storage"
)

// journalEntry is an event waiting to be appended to a session journal
type journalEntry struct {
	sessionID string
	record    storage.EventRecord
}

// persist writes the session state to Redis when configured
func (m *Manager) persist(session *Session) {
	if m.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
	defer cancel()
	if err := m.repo.SaveSession(ctx, session.toState()); err != nil {
		slog.Warn("failed to persist session to Redis", "session_id", session.ID, "error", err)
	}
}

// closeRecord stores the final status of a session. The record stays
// readable until its TTL runs out.
func (m *Manager) closeRecord(sessionID string, status SessionStatus) {
	if m.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.CloseSession(ctx, sessionID, string(status)); err != nil {
		slog.Warn("failed to close session in Redis", "session_id", sessionID, "error", err)
	}
}

// enqueueEvent hands an event to the journal worker without blocking. The
// event is dropped from the journal when the queue is full.
func (m *Manager) enqueueEvent(sessionID string, ev Event) {
	if m.journal == nil {
		return
	}

	entry := journalEntry{
		sessionID: sessionID,
		record:    storage.EventRecord{Method: ev.Method, Params: ev.Params, ReceivedAt: ev.ReceivedAt},
	}
	select {
	case m.journal <- entry:
	default:
		slog.Warn("event journal queue full, dropping event",
			"session_id", sessionID,
			"event", ev.Method)
	}
}

// runJournal appends queued events to Redis until the manager closes
func (m *Manager) runJournal() {
	defer close(m.journalDone)

	for {
		select {
		case <-m.ctx.Done():
			return

		case entry := <-m.journal:
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := m.repo.AppendEvent(ctx, entry.sessionID, entry.record); err != nil {
				slog.Warn("failed to journal event", "session_id", entry.sessionID, "error", err)
			}
			cancel()
		}
	}
}

// PersistedState returns the state of a session, held or not. Sessions no
// longer held are read back from Redis while their record lives.
func (m *Manager) PersistedState(ctx context.Context, sessionID string) (*storage.SessionState, error) {
	if session, err := m.GetSession(sessionID); err == nil {
		return session.toState(), nil
	}
	if m.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	state, err := m.repo.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}
	return state, nil
}

// journaledEvents reads up to limit of the newest journaled events
func (m *Manager) journaledEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	records, err := m.repo.RecentEvents(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(records))
	for i, r := range records {
		events[i] = Event{Method: r.Method, Params: r.Params, ReceivedAt: r.ReceivedAt}
	}
	return events, nil
}

// Reconcile closes the Redis records left active by a previous run: every
// session in the active set that this manager does not hold. It returns the
// number of records fixed.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}

	ids, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, id := range ids {
		if _, err := m.GetSession(id); err == nil {
			continue
		}

		_, err := m.repo.GetSession(ctx, id)
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			// The record expired, only the set entry is left
			err = m.repo.DeleteSession(ctx, id)
		case err == nil:
			err = m.repo.CloseSession(ctx, id, string(SessionClosed))
		}
		if err != nil {
			slog.Warn("failed to reconcile session", "session_id", id, "error", err)
			continue
		}
		fixed++
	}

	if fixed > 0 {
		slog.Info("closed stale session records", "count", fixed)
	}
	return fixed, nil
}

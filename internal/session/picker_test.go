package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// Test helper: picker handing out a fixed target and counting leases
type fakePicker struct {
	mu       sync.Mutex
	target   string
	err      error
	picked   int
	released []string
}

func (p *fakePicker) Pick() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.picked++
	return p.target, nil
}

func (p *fakePicker) Release(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, target)
}

func (p *fakePicker) leases() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.picked, len(p.released)
}

// TestPickerTarget tests that sessions without a target come from the picker
func TestPickerTarget(t *testing.T) {
	picker := &fakePicker{}
	srv, manager := setupTestManager(t, Config{DefaultTarget: "localhost:1", Picker: picker}, nil)
	picker.target = srv.Addr()

	session := createTestSession(t, srv, manager)

	if picked, released := picker.leases(); picked != 1 || released != 0 {
		t.Fatalf("expected 1 pick and 0 releases, got %d and %d", picked, released)
	}

	if err := manager.DestroySession(session.ID); err != nil {
		t.Fatalf("DestroySession failed: %v", err)
	}
	if _, released := picker.leases(); released != 1 {
		t.Fatalf("expected the target to be released once, got %d", released)
	}
	if picker.released[0] != srv.Addr() {
		t.Errorf("released %q, want %q", picker.released[0], srv.Addr())
	}
}

// TestPickerExplicitTarget tests that an explicit target bypasses the picker
func TestPickerExplicitTarget(t *testing.T) {
	picker := &fakePicker{}
	srv, manager := setupTestManager(t, Config{Picker: picker}, nil)

	session, err := manager.CreateSession(context.Background(), srv.PageURL())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := manager.DestroySession(session.ID); err != nil {
		t.Fatalf("DestroySession failed: %v", err)
	}

	if picked, released := picker.leases(); picked != 0 || released != 0 {
		t.Errorf("expected the picker to be unused, got %d picks and %d releases", picked, released)
	}
}

// TestPickerFailures tests that failed creations do not leak leases
func TestPickerFailures(t *testing.T) {
	t.Run("pick error", func(t *testing.T) {
		picker := &fakePicker{err: errors.New("no healthy browsers")}
		_, manager := setupTestManager(t, Config{Picker: picker}, nil)

		if _, err := manager.CreateSession(context.Background(), ""); err == nil {
			t.Fatal("expected error when the picker fails")
		}
	})

	t.Run("unreachable target", func(t *testing.T) {
		picker := &fakePicker{}
		srv, manager := setupTestManager(t, Config{Picker: picker, ConnectTimeout: time.Second}, nil)
		picker.target = srv.Addr()
		srv.Close()

		if _, err := manager.CreateSession(context.Background(), ""); err == nil {
			t.Fatal("expected error for an unreachable target")
		}
		if picked, released := picker.leases(); picked != 1 || released != 1 {
			t.Errorf("expected 1 pick and 1 release, got %d and %d", picked, released)
		}
	})
}

// TestPickerReleasedOnClose tests that closing the manager releases leases
func TestPickerReleasedOnClose(t *testing.T) {
	picker := &fakePicker{}
	srv, manager := setupTestManager(t, Config{Picker: picker}, nil)
	picker.target = srv.Addr()

	createTestSession(t, srv, manager)
	createTestSession(t, srv, manager)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, released := picker.leases(); released != 2 {
		t.Errorf("expected 2 releases, got %d", released)
	}
}

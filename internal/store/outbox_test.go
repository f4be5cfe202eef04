package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSQLiteStore_OutboxRepo_EnqueueAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.EnqueueOutboxMessage("conv-1", OutboxKindLeadCreated, `{"lead_id":1}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueOutboxMessage returned empty ID")
	}

	msgs, err := s.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ConversationID != "conv-1" {
		t.Errorf("Expected conversation 'conv-1', got %q", msgs[0].ConversationID)
	}
	if msgs[0].Status != OutboxStatusSending {
		t.Errorf("Expected status 'sending', got %q", msgs[0].Status)
	}

	again, _ := s.ClaimDueOutboxMessages(time.Now(), 10)
	if len(again) != 0 {
		t.Errorf("Expected claimed message not to be claimed twice, got %d", len(again))
	}
}

func TestSQLiteStore_OutboxRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)

	id1, err := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "lead:1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "lead:1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
	}

	if err := s.MarkOutboxMessageSent(id1); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	id3, _ := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "lead:1")
	if id3 == id1 {
		t.Error("Expected a new message once the previous one was sent")
	}
}

func TestSQLiteStore_OutboxRepo_MarkSent(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, _ := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "")
	if msgs, _ := s.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if err := s.MarkOutboxMessageSent(id); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	if msgs, _ := s.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 0 {
		t.Errorf("Expected 0 messages after sent, got %d", len(msgs))
	}
}

func TestSQLiteStore_OutboxRepo_FailAndRetry(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, _ := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "")
	s.ClaimDueOutboxMessages(time.Now(), 10)

	if err := s.FailOutboxMessage(id, "smtp down", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}
	if msgs, _ := s.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 0 {
		t.Errorf("Expected retry to wait for next_attempt_at, got %d", len(msgs))
	}

	msgs, _ := s.ClaimDueOutboxMessages(time.Now().Add(2*time.Hour), 10)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 retryable message, got %d", len(msgs))
	}
	if msgs[0].Attempts != 1 || msgs[0].LastError != "smtp down" {
		t.Errorf("Expected attempts=1 and last error recorded, got %d %q", msgs[0].Attempts, msgs[0].LastError)
	}
}

func TestSQLiteStore_OutboxRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)

	s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "")
	s.ClaimDueOutboxMessages(time.Now(), 10)

	n, err := s.RequeueStaleSendingMessages(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
}

func TestInMemoryStore_OutboxRepo(t *testing.T) {
	s := NewInMemoryStore()
	id, _ := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "lead:9")
	if dup, _ := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "lead:9"); dup != id {
		t.Errorf("Expected dedupe to return %q, got %q", id, dup)
	}
	msgs, _ := s.ClaimDueOutboxMessages(time.Now(), 10)
	if len(msgs) != 1 || msgs[0].Status != OutboxStatusSending {
		t.Fatalf("Expected 1 sending message, got %+v", msgs)
	}
	if err := s.FailOutboxMessage(id, "boom", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}
	msgs, _ = s.ClaimDueOutboxMessages(time.Now(), 10)
	if len(msgs) != 1 || msgs[0].Attempts != 1 {
		t.Fatalf("Expected retry with attempts=1, got %+v", msgs)
	}
	if err := s.MarkOutboxMessageSent("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOutboxSender_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 50*time.Millisecond)

	if _, err := s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{"lead_id":1}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}

func TestOutboxSender_FailureSchedulesBackoff(t *testing.T) {
	s := NewInMemoryStore()
	var calls int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("provider unavailable")
	}, 20*time.Millisecond)

	s.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{}`, "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	// first retry is 10s away so only one attempt fits in the window
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
	msgs := s.OutboxMessages()
	if len(msgs) != 1 || msgs[0].Status != OutboxStatusQueued || msgs[0].NextAttemptAt == nil {
		t.Fatalf("Expected queued message with next attempt, got %+v", msgs)
	}
	if wait := time.Until(*msgs[0].NextAttemptAt); wait < 5*time.Second {
		t.Errorf("Expected backoff of about 10s, got %v", wait)
	}
}

func TestOutboxSenderRestartRecovery(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "outbox_restart_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)
	dbPath := filepath.Join(tempDir, "test.db")

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1) failed: %v", err)
	}
	if _, err := s1.EnqueueOutboxMessage("c1", OutboxKindLeadCreated, `{"lead_id":7}`, "lead:7"); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	msgs, err := s1.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Expected 1 claimed message, got %d (%v)", len(msgs), err)
	}
	// crash mid-send
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2) failed: %v", err)
	}
	defer s2.Close()

	var sent int32
	sender := NewOutboxSender(s2, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 50*time.Millisecond)
	sender.staleThreshold = -time.Minute
	if err := sender.RecoverStaleMessages(); err != nil {
		t.Fatalf("RecoverStaleMessages failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send after recovery, got %d", atomic.LoadInt32(&sent))
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{3, 80 * time.Second},
		{9, time.Hour},
		{40, time.Hour},
	}
	for _, tt := range tests {
		if got := retryBackoff(tt.attempts); got != tt.want {
			t.Errorf("retryBackoff(%d): expected %v, got %v", tt.attempts, tt.want, got)
		}
	}
}

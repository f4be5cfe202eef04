package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// StateManager loads and commits per-conversation dialogue state.
type StateManager interface {
	// LoadMemory returns the stored memory, or an empty record for a new conversation.
	LoadMemory(ctx context.Context, conversationID string) (models.Memory, error)
	// RecentMessages returns up to limit most recent messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// CommitTurn stores memory and both messages of a turn, or nothing.
	CommitTurn(ctx context.Context, turn store.Turn) error
	// Reset clears memory and history.
	Reset(ctx context.Context, conversationID string) error
}

// StoreBasedStateManager implements StateManager using a ConversationStore backend.
type StoreBasedStateManager struct {
	store store.ConversationStore
}

// NewStoreBasedStateManager creates a new StateManager backed by a store.
func NewStoreBasedStateManager(st store.ConversationStore) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

func (sm *StoreBasedStateManager) LoadMemory(ctx context.Context, conversationID string) (models.Memory, error) {
	slog.Debug("StateManager LoadMemory", "conversationID", conversationID)
	mem, err := sm.store.GetMemory(ctx, conversationID)
	if err != nil {
		slog.Error("StateManager LoadMemory error", "error", err, "conversationID", conversationID)
		return models.Memory{}, fmt.Errorf("failed to load memory: %w", err)
	}
	if mem == nil {
		slog.Debug("StateManager LoadMemory not found, starting empty", "conversationID", conversationID)
		return models.NewMemory(), nil
	}
	return mem.Clone(), nil
}

func (sm *StoreBasedStateManager) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit == 0 {
		return nil, nil
	}
	msgs, err := sm.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		slog.Error("StateManager RecentMessages error", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

func (sm *StoreBasedStateManager) CommitTurn(ctx context.Context, turn store.Turn) error {
	if err := sm.store.SaveTurn(ctx, turn); err != nil {
		slog.Error("StateManager CommitTurn error", "error", err, "conversationID", turn.ConversationID)
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("StateManager CommitTurn succeeded", "conversationID", turn.ConversationID, "activeFlow", turn.Memory.ActiveFlow)
	return nil
}

func (sm *StoreBasedStateManager) Reset(ctx context.Context, conversationID string) error {
	if err := sm.store.ClearConversation(ctx, conversationID); err != nil {
		slog.Error("StateManager Reset error", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	slog.Info("StateManager Reset succeeded", "conversationID", conversationID)
	return nil
}

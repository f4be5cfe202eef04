package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// DefaultHistoryLimit is the number of prior messages passed as model context.
const DefaultHistoryLimit = 20

// ConversationFlow is the dialogue orchestrator: load memory and history,
// route, run the module and commit the turn.
type ConversationFlow struct {
	stateManager StateManager
	router       *Router
	registry     *Registry
	historyLimit int
	locks        keyedMutex
}

// NewConversationFlow wires the router and the default modules over deps.
// Without a FAQ searcher the catalog FAQs are ranked by keyword overlap.
// A negative historyLimit selects DefaultHistoryLimit.
func NewConversationFlow(stateManager StateManager, deps Deps, historyLimit int) *ConversationFlow {
	if deps.FAQ == nil && deps.Catalog != nil {
		deps.FAQ = faq.NewKeywordSearcher(deps.Catalog)
	}
	slog.Debug("ConversationFlow.NewConversationFlow: creating flow", "hasGenAI", deps.GenAI != nil, "hasOutbox", deps.Outbox != nil, "historyLimit", historyLimit)
	return NewConversationFlowWithModules(stateManager, NewRouter(deps.GenAI), NewRegistry(DefaultModules(deps)...), historyLimit)
}

// NewConversationFlowWithModules builds a flow from explicit parts.
func NewConversationFlowWithModules(stateManager StateManager, router *Router, registry *Registry, historyLimit int) *ConversationFlow {
	if historyLimit < 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ConversationFlow{
		stateManager: stateManager,
		router:       router,
		registry:     registry,
		historyLimit: historyLimit,
		locks:        keyedMutex{locks: make(map[string]*refLock)},
	}
}

// ProcessMessage runs one turn. Turns of the same conversation are
// serialised; different conversations run in parallel. On error nothing of
// the turn is committed.
func (f *ConversationFlow) ProcessMessage(ctx context.Context, conversationID, message string, inputType models.InputType) (models.Route, string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", "", models.ErrEmptyConversationID
	}
	if inputType == "" {
		inputType = models.InputTypeText
	}

	unlock := f.locks.Lock(conversationID)
	defer unlock()

	mem, err := f.stateManager.LoadMemory(ctx, conversationID)
	if err != nil {
		return "", "", err
	}
	history, err := f.stateManager.RecentMessages(ctx, conversationID, f.historyLimit)
	if err != nil {
		return "", "", err
	}

	route, routed := f.router.Route(ctx, message, history, mem)
	res, err := f.registry.Handle(ctx, route, Turn{
		ConversationID: conversationID,
		Message:        message,
		History:        history,
		Memory:         routed,
	})
	if err != nil {
		return "", "", fmt.Errorf("%s module failed: %w", route, err)
	}

	now := time.Now()
	turn := store.Turn{
		ConversationID: conversationID,
		Memory:         res.Memory,
		UserMessage: models.Message{
			ConversationID: conversationID,
			Role:           models.RoleUser,
			Content:        message,
			Route:          route,
			InputType:      inputType,
			CreatedAt:      now,
		},
		Reply: models.Message{
			ConversationID: conversationID,
			Role:           models.RoleAssistant,
			Content:        res.Reply,
			Route:          route,
			CreatedAt:      now,
		},
	}
	if err := f.stateManager.CommitTurn(ctx, turn); err != nil {
		return "", "", err
	}
	slog.Debug("ConversationFlow.ProcessMessage: turn committed", "conversationID", conversationID, "route", route, "activeFlow", res.Memory.ActiveFlow)
	return route, res.Reply, nil
}

// History returns up to limit most recent messages of a conversation.
func (f *ConversationFlow) History(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	return f.stateManager.RecentMessages(ctx, conversationID, limit)
}

// Reset clears a conversation's memory and history.
func (f *ConversationFlow) Reset(ctx context.Context, conversationID string) error {
	unlock := f.locks.Lock(conversationID)
	defer unlock()
	return f.stateManager.Reset(ctx, conversationID)
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

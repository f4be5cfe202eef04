// Package flow implements the dialogue state machine: the router that picks a
// domain for every turn, the five domain modules and the orchestrator that
// threads conversation memory through them.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// Turn is the input of one module invocation.
type Turn struct {
	ConversationID string
	Message        string
	History        []models.Message
	Memory         models.Memory
}

// Result is a module's reply and the memory the conversation moves to.
type Result struct {
	Reply  string
	Memory models.Memory
}

// Module is a domain handler. Handle must treat turn.Memory as its input
// state and return the next state in Result.Memory. A returned error means
// an infrastructure failure; every domain outcome is a Reply.
type Module interface {
	Route() models.Route
	Handle(ctx context.Context, turn Turn) (Result, error)
}

// Deps are the collaborators shared by the domain modules.
type Deps struct {
	Catalog store.CatalogStore
	Outbox  store.OutboxRepo
	GenAI   genai.ClientInterface // nil means deterministic replies only
	FAQ     faq.Searcher
}

// Registry maps routes to modules.
type Registry struct {
	modules map[models.Route]Module
}

// NewRegistry creates a registry holding mods.
func NewRegistry(mods ...Module) *Registry {
	r := &Registry{modules: make(map[models.Route]Module)}
	for _, m := range mods {
		r.Register(m)
	}
	return r
}

// Register associates a module with its route, replacing any previous one.
func (r *Registry) Register(m Module) {
	r.modules[m.Route()] = m
}

// Get retrieves the module for a route.
func (r *Registry) Get(route models.Route) (Module, bool) {
	m, ok := r.modules[route]
	return m, ok
}

// Handle runs the module registered for route.
func (r *Registry) Handle(ctx context.Context, route models.Route, turn Turn) (Result, error) {
	slog.Debug("Flow Handle invoked", "route", route, "conversationID", turn.ConversationID)
	m, ok := r.Get(route)
	if !ok {
		slog.Error("No module registered for route", "route", route, "conversationID", turn.ConversationID)
		return Result{}, fmt.Errorf("no module registered for route %s", route)
	}
	res, err := m.Handle(ctx, turn)
	if err != nil {
		slog.Error("Flow module error", "route", route, "conversationID", turn.ConversationID, "error", err)
		return Result{}, err
	}
	return res, nil
}

// DefaultModules builds the five domain modules over deps.
func DefaultModules(deps Deps) []Module {
	products := NewProductSearcher(deps.Catalog)
	return []Module{
		NewSalesModule(products, deps.GenAI),
		NewMarketingModule(deps.Catalog, deps.GenAI),
		NewSupportModule(deps.Catalog, deps.FAQ, deps.GenAI),
		NewOrdersModule(deps.Catalog, deps.FAQ, deps.GenAI),
		NewPurchaseModule(deps.Catalog, products, deps.Outbox),
	}
}

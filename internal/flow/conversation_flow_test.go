package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/openai/openai-go"
)

func process(t *testing.T, f *ConversationFlow, conversationID, msg string) (models.Route, string) {
	t.Helper()
	route, reply, err := f.ProcessMessage(context.Background(), conversationID, msg, models.InputTypeText)
	if err != nil {
		t.Fatalf("ProcessMessage(%q) returned error: %v", msg, err)
	}
	return route, reply
}

func TestConversationFlow_BareNumberOnFreshConversation(t *testing.T) {
	f, _ := newTestFlow(t, nil)
	route, reply := process(t, f, "c1", "101")
	if route != models.RouteSales {
		t.Errorf("expected sales, got %s", route)
	}
	if reply == "" {
		t.Error("expected a reply")
	}
}

func TestConversationFlow_BuyNowToLead(t *testing.T) {
	f, st := newTestFlow(t, nil)
	ctx := context.Background()

	route, _ := process(t, f, "c1", "buy now")
	if route != models.RoutePurchase {
		t.Fatalf("expected purchase, got %s", route)
	}
	mem, err := st.GetMemory(ctx, "c1")
	if err != nil || mem == nil {
		t.Fatalf("expected stored memory, got %v, %v", mem, err)
	}
	if !mem.BuyFlow.Active || mem.BuyFlow.Step != models.BuyStepProduct {
		t.Fatalf("expected active buy flow at product step, got %+v", mem.BuyFlow)
	}

	for _, msg := range []string{"SKU: PHN-SAM-S24", "Rashmi", "0771234567"} {
		if route, reply := process(t, f, "c1", msg); route != models.RoutePurchase {
			t.Fatalf("%q: expected purchase, got %s (%q)", msg, route, reply)
		}
	}

	if len(st.Leads()) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(st.Leads()))
	}
	if len(st.OutboxMessages()) != 1 {
		t.Errorf("expected 1 outbox message, got %d", len(st.OutboxMessages()))
	}
	mem, _ = st.GetMemory(ctx, "c1")
	if mem.BuyFlow.Active || mem.ActiveFlow != models.RouteSales {
		t.Errorf("expected buy flow released to sales, got %+v", mem)
	}
}

func TestConversationFlow_OneTurnReturn(t *testing.T) {
	f, _ := newTestFlow(t, nil)
	route, reply := process(t, f, "c1", "I want to return my order 104 because the screen is cracked")
	if route != models.RouteOrders {
		t.Fatalf("expected orders, got %s", route)
	}
	if !strings.HasPrefix(reply, "Return request created") {
		t.Errorf("expected return created, got %q", reply)
	}
}

func TestConversationFlow_PolicyQuestionStaysInOrders(t *testing.T) {
	f, _ := newTestFlow(t, nil)
	process(t, f, "c1", "Where is my order 101?")

	route, reply := process(t, f, "c1", "What is the return policy?")
	if route != models.RouteOrders {
		t.Fatalf("expected orders, got %s", route)
	}
	if !strings.Contains(reply, "returned within 7 days") {
		t.Errorf("expected policy answer, got %q", reply)
	}
}

func TestConversationFlow_HistoryAndReset(t *testing.T) {
	f, st := newTestFlow(t, nil)
	ctx := context.Background()

	process(t, f, "c1", "hi")
	if _, _, err := f.ProcessMessage(ctx, "c1", "any deals?", models.InputTypeVoice); err != nil {
		t.Fatalf("ProcessMessage returned error: %v", err)
	}

	history, err := f.History(ctx, "c1", 200)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	wantRoles := []models.MessageRole{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant}
	for i, m := range history {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d: expected role %s, got %s", i, wantRoles[i], m.Role)
		}
	}
	if history[2].Route != models.RouteMarketing || history[2].InputType != models.InputTypeVoice {
		t.Errorf("expected marketing voice message, got %+v", history[2])
	}

	if err := f.Reset(ctx, "c1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	history, _ = f.History(ctx, "c1", 200)
	if len(history) != 0 {
		t.Errorf("expected empty history after reset, got %d", len(history))
	}
	if mem, _ := st.GetMemory(ctx, "c1"); mem != nil {
		t.Errorf("expected memory cleared, got %+v", mem)
	}
}

func TestConversationFlow_TopicChangeDeclinesTicketOffer(t *testing.T) {
	f, st := newTestFlow(t, nil)
	ctx := context.Background()

	pending := func(conversationID string) bool {
		t.Helper()
		mem, err := st.GetMemory(ctx, conversationID)
		if err != nil || mem == nil {
			t.Fatalf("expected stored memory, got %v, %v", mem, err)
		}
		return mem.TicketPending
	}

	if route, _ := process(t, f, "c1", "my phone won't turn on"); route != models.RouteSupport {
		t.Fatalf("expected support, got %s", route)
	}
	if !pending("c1") {
		t.Fatal("expected a ticket offer to be pending")
	}

	// No domain keyword: support answers once without offering again.
	route, reply := process(t, f, "c1", "show me samsung tvs")
	if route != models.RouteSupport {
		t.Fatalf("expected support, got %s", route)
	}
	if pending("c1") {
		t.Errorf("expected the offer to be declined, got reply %q", reply)
	}
	if strings.Contains(reply, "reply **yes**") || strings.Contains(reply, "(yes/no)") {
		t.Errorf("expected no repeated offer, got %q", reply)
	}

	if route, _ := process(t, f, "c1", "I want to see phones"); route != models.RouteSales {
		t.Errorf("expected sales, got %s", route)
	}
	if route, _ := process(t, f, "c1", "what promotions do you have on tvs"); route != models.RouteMarketing {
		t.Errorf("expected marketing, got %s", route)
	}
	if len(st.Tickets()) != 0 {
		t.Errorf("expected no ticket, got %d", len(st.Tickets()))
	}

	// A keyword for another domain leaves support on the same turn.
	process(t, f, "c2", "my phone won't turn on")
	if route, _ := process(t, f, "c2", "how much does the samsung tv cost"); route != models.RouteSales {
		t.Errorf("expected sales, got %s", route)
	}
	if pending("c2") {
		t.Error("expected leaving support to release the offer")
	}
}

func TestConversationFlow_EmptyConversationID(t *testing.T) {
	f, _ := newTestFlow(t, nil)
	_, _, err := f.ProcessMessage(context.Background(), "  ", "hi", models.InputTypeText)
	if !errors.Is(err, models.ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}
}

type failingModule struct{ route models.Route }

func (m failingModule) Route() models.Route { return m.route }

func (m failingModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	return Result{}, errors.New("database unavailable")
}

func TestConversationFlow_FailedTurnCommitsNothing(t *testing.T) {
	sm := NewMockStateManager()
	f := NewConversationFlowWithModules(sm, NewRouter(nil), NewRegistry(failingModule{route: models.RouteSales}), DefaultHistoryLimit)
	ctx := context.Background()

	if _, _, err := f.ProcessMessage(ctx, "c1", "hi", models.InputTypeText); err == nil {
		t.Fatal("expected error from failing module")
	}
	history, err := f.History(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no messages after failed turn, got %d", len(history))
	}
	mem, err := sm.LoadMemory(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadMemory returned error: %v", err)
	}
	if mem.ActiveFlow != "" {
		t.Errorf("expected untouched memory, got ActiveFlow %s", mem.ActiveFlow)
	}
}

func TestConversationFlow_ConcurrentConversations(t *testing.T) {
	f, _ := newTestFlow(t, nil)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, _, err := f.ProcessMessage(ctx, fmt.Sprintf("c-%d", i), "hi", models.InputTypeText); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, _, err := f.ProcessMessage(ctx, "shared", "show me TVs", models.InputTypeText); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ProcessMessage returned error: %v", err)
	}

	history, err := f.History(ctx, "shared", 100)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 2*n {
		t.Fatalf("expected %d messages, got %d", 2*n, len(history))
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != models.RoleUser || history[i+1].Role != models.RoleAssistant {
			t.Fatalf("expected turns to be stored whole, got roles %s, %s at %d", history[i].Role, history[i+1].Role, i)
		}
	}
	if len(f.locks.locks) != 0 {
		t.Errorf("expected per-conversation locks to be released, got %d", len(f.locks.locks))
	}
}

func TestConversationFlow_ModelFallbackRoutes(t *testing.T) {
	client := &MockGenAIClient{Respond: func(_ []openai.ChatCompletionMessageParamUnion) (string, error) { return "support", nil }}
	f, _ := newTestFlow(t, client)
	route, _ := process(t, f, "c1", "ok")
	if route != models.RouteSupport {
		t.Errorf("expected support from model fallback, got %s", route)
	}
}

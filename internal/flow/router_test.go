package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/CartPipe/internal/models"
)

type routeCase struct {
	msg  string
	want models.Route
}

var freshRouteCases = []routeCase{
	{"buy now", models.RoutePurchase},
	{"checkout", models.RoutePurchase},
	{"hi", models.RouteSales},
	{"hello!", models.RouteSales},
	{"101", models.RouteSales},
	{"Where is my order 101?", models.RouteOrders},
	{"Track order #102", models.RouteOrders},
	{"Was my order shipped yet?", models.RouteOrders},
	{"Refund for order 103 please", models.RouteOrders},
	{"What is your return policy?", models.RouteOrders},
	{"I want to return my order 104 because the screen is cracked", models.RouteOrders},
	{"I want to buy an iPhone and return my old one", models.RouteOrders},
	{"What's the price of iPhone 15 Pro?", models.RouteSales},
	{"Do you have Samsung TVs in stock?", models.RouteSales},
	{"Can I pay with credit card?", models.RouteSales},
	{"Do you deliver to Kandy?", models.RouteSales},
	{"Compare iPhone 15 and Galaxy S24", models.RouteSales},
	{"Which fridge do you recommend for a family of four?", models.RouteSales},
	{"My TV is not working", models.RouteSupport},
	{"How do I setup my new fridge?", models.RouteSupport},
	{"What's the warranty on the LG fridge?", models.RouteSupport},
	{"My phone battery drains fast, it's a problem", models.RouteSupport},
	{"The screen has an error code", models.RouteSupport},
	{"Any discount on fridges?", models.RouteMarketing},
	{"Any deals this weekend?", models.RouteMarketing},
	{"Is there a promo code for laptops?", models.RouteMarketing},
	{"Coupon for Samsung TV", models.RouteMarketing},
}

func TestRouter_FreshConversation(t *testing.T) {
	r := NewRouter(nil)
	for _, tc := range freshRouteCases {
		t.Run(tc.msg, func(t *testing.T) {
			got, mem := r.Route(context.Background(), tc.msg, nil, models.NewMemory())
			if got != tc.want {
				t.Errorf("expected route %s, got %s", tc.want, got)
			}
			if mem.ActiveFlow != got {
				t.Errorf("expected ActiveFlow %s, got %s", got, mem.ActiveFlow)
			}
		})
	}
}

func TestRouter_KeywordAccuracy(t *testing.T) {
	r := NewRouter(nil)
	correct := 0
	for _, tc := range freshRouteCases {
		if got, _ := r.Route(context.Background(), tc.msg, nil, models.NewMemory()); got == tc.want {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(freshRouteCases))
	if accuracy < 0.85 {
		t.Fatalf("expected accuracy >= 0.85, got %.2f", accuracy)
	}
}

func TestRouter_Stickiness(t *testing.T) {
	purchasing := models.NewMemory()
	purchasing.ActiveFlow = models.RoutePurchase
	purchasing.BuyFlow = models.BuyFlow{Active: true, Step: models.BuyStepName}

	ordering := models.NewMemory()
	ordering.ActiveFlow = models.RouteOrders
	ordering.LastOrderID = 101

	pendingTicket := models.NewMemory()
	pendingTicket.ActiveFlow = models.RouteSupport
	pendingTicket.TicketPending = true

	supporting := models.NewMemory()
	supporting.ActiveFlow = models.RouteSupport

	selling := models.NewMemory()
	selling.ActiveFlow = models.RouteSales

	tests := []struct {
		name string
		mem  models.Memory
		msg  string
		want models.Route
	}{
		{"purchase keeps name reply", purchasing, "Rashmi Perera", models.RoutePurchase},
		{"purchase escapes to support", purchasing, "my tv is not working", models.RouteSupport},
		{"purchase escapes to orders", purchasing, "where is my order 101", models.RouteOrders},
		{"orders keeps policy question", ordering, "what is the return policy?", models.RouteOrders},
		{"orders keeps bare number", ordering, "103", models.RouteOrders},
		{"orders keeps vague follow-up", ordering, "when will it arrive?", models.RouteOrders},
		{"orders releases sales question", ordering, "what's the price of the galaxy s24", models.RouteSales},
		{"orders releases support question", ordering, "my fridge has a problem", models.RouteSupport},
		{"support keeps pending confirmation", pendingTicket, "yes", models.RouteSupport},
		{"support keeps pending problem detail", pendingTicket, "it still won't charge", models.RouteSupport},
		{"pending offer releases sales question", pendingTicket, "what's the price of the galaxy s24", models.RouteSales},
		{"pending offer releases marketing", pendingTicket, "any discount on tvs?", models.RouteMarketing},
		{"pending offer releases orders", pendingTicket, "where is my order 101", models.RouteOrders},
		{"support releases sales question", supporting, "how much does the iphone cost", models.RouteSales},
		{"sales keeps vague follow-up", selling, "hmm, the second one", models.RouteSales},
		{"sales releases marketing", selling, "any discount?", models.RouteMarketing},
	}
	r := NewRouter(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := r.Route(context.Background(), tc.msg, nil, tc.mem)
			if got != tc.want {
				t.Errorf("expected route %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRouter_ReturnPendingPrecedence(t *testing.T) {
	mem := models.NewMemory()
	mem.ActiveFlow = models.RouteOrders
	mem.ReturnPending = true
	r := NewRouter(nil)

	for _, msg := range []string{"the screen is cracked", "104", "order 104", "it's damaged"} {
		got, next := r.Route(context.Background(), msg, nil, mem)
		if got != models.RouteOrders {
			t.Errorf("%q: expected orders, got %s", msg, got)
		}
		if !next.ReturnPending {
			t.Errorf("%q: expected return to stay pending", msg)
		}
	}

	// a reason that also names a sales keyword stays in orders
	if got, _ := r.Route(context.Background(), "the price was wrong item", nil, mem); got != models.RouteOrders {
		t.Errorf("expected orders for a reason with a sales word, got %s", got)
	}

	got, next := r.Route(context.Background(), "any discount on TVs?", nil, mem)
	if got != models.RouteMarketing {
		t.Fatalf("expected marketing, got %s", got)
	}
	if next.ReturnPending {
		t.Error("expected leaving orders to release the pending return")
	}
}

func TestRouter_LeavingSupportReleasesTicketOffer(t *testing.T) {
	mem := models.NewMemory()
	mem.ActiveFlow = models.RouteSupport
	mem.TicketPending = true
	mem.SupportTicketID = 7

	_, next := NewRouter(nil).Route(context.Background(), "buy now", nil, mem)
	if next.TicketPending {
		t.Error("expected TicketPending to be cleared")
	}
	if next.SupportTicketID != 7 {
		t.Errorf("expected ticket id to survive, got %d", next.SupportTicketID)
	}
}

func TestRouter_ModelFallback(t *testing.T) {
	tests := []struct {
		name   string
		client *MockGenAIClient
		want   models.Route
	}{
		{"valid label", &MockGenAIClient{Responses: []string{" Support."}}, models.RouteSupport},
		{"unknown label", &MockGenAIClient{Responses: []string{"banana"}}, models.RouteSales},
		{"model error", &MockGenAIClient{Err: errors.New("boom")}, models.RouteSales},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := NewRouter(tc.client).Route(context.Background(), "ok", nil, models.NewMemory())
			if got != tc.want {
				t.Errorf("expected route %s, got %s", tc.want, got)
			}
			if tc.client.CallCount() != 1 {
				t.Errorf("expected 1 model call, got %d", tc.client.CallCount())
			}
			if tc.client.Temps[0] != routerTemperature {
				t.Errorf("expected temperature %v, got %v", float64(routerTemperature), tc.client.Temps[0])
			}
		})
	}
}

func TestRouter_KeywordsSkipModel(t *testing.T) {
	client := &MockGenAIClient{Responses: []string{"marketing"}}
	got, _ := NewRouter(client).Route(context.Background(), "where is my order 101", nil, models.NewMemory())
	if got != models.RouteOrders {
		t.Errorf("expected orders, got %s", got)
	}
	if client.CallCount() != 0 {
		t.Errorf("expected no model call, got %d", client.CallCount())
	}
}

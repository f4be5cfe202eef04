package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

var testProducts = []models.Product{
	{ID: 1, SKU: "PHN-APL-15P", Name: "Apple iPhone 15 Pro 256GB", Category: "phone", Price: 389999, InStock: true},
	{ID: 2, SKU: "PHN-SAM-S24", Name: "Samsung Galaxy S24", Category: "phone", Price: 289999, InStock: true},
	{ID: 3, SKU: "TV-SAM-55Q", Name: "Samsung 55 QLED TV", Category: "tv", Price: 249999, InStock: true},
	{ID: 4, SKU: "TV-LG-65OL", Name: "LG 65 OLED TV", Category: "tv", Price: 499999, InStock: false},
	{ID: 5, SKU: "FRG-LG-260", Name: "LG 260L Inverter Fridge", Category: "fridge", Price: 159999, InStock: true},
}

var testOrders = []models.Order{
	{ID: 101, CustomerName: "Nimal", Status: models.OrderStatusShipped, TrackingNumber: "TRK101", TotalAmount: 389999, ProductID: 1},
	{ID: 102, CustomerName: "Kamala", Status: models.OrderStatusProcessing, TotalAmount: 249999, ProductID: 3},
	{ID: 103, CustomerName: "Sunil", Status: models.OrderStatusDelivered, TrackingNumber: "TRK103", TotalAmount: 159999, ProductID: 5},
	{ID: 104, CustomerName: "Ayesha", Status: models.OrderStatusDelivered, TrackingNumber: "TRK104", TotalAmount: 289999, ProductID: 2},
}

var testFAQs = []models.FAQEntry{
	{Question: "What is the return policy?", Answer: "Items can be returned within 7 days of delivery in the original packaging."},
	{Question: "How long does delivery take?", Answer: "Colombo deliveries take 1-2 working days, outstation 3-5."},
	{Question: "My phone won't turn on", Answer: "Charge the phone for 30 minutes, then hold the power button for 15 seconds."},
	{Question: "What does the warranty cover?", Answer: "Every product has a 1-year manufacturer warranty covering defects."},
}

// newTestCatalog returns an in-memory store seeded with a small catalog.
func newTestCatalog(t *testing.T) *store.InMemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewInMemoryStore()
	for _, p := range testProducts {
		if _, err := st.UpsertProduct(ctx, p); err != nil {
			t.Fatalf("failed to seed product: %v", err)
		}
	}
	for _, o := range testOrders {
		if err := st.UpsertOrder(ctx, o); err != nil {
			t.Fatalf("failed to seed order: %v", err)
		}
	}
	for _, f := range testFAQs {
		if err := st.UpsertFAQ(ctx, f); err != nil {
			t.Fatalf("failed to seed faq: %v", err)
		}
	}
	promo := models.Promotion{Title: "Avurudu Sale", Details: "15% off selected TVs", DiscountPercent: 15, ValidUntil: time.Now().Add(30 * 24 * time.Hour)}
	if err := st.UpsertPromotion(ctx, promo); err != nil {
		t.Fatalf("failed to seed promotion: %v", err)
	}
	return st
}

// newTestFlow wires a conversation flow over a seeded store.
func newTestFlow(t *testing.T, client *MockGenAIClient) (*ConversationFlow, *store.InMemoryStore) {
	t.Helper()
	st := newTestCatalog(t)
	deps := Deps{Catalog: st, Outbox: st, FAQ: faq.NewKeywordSearcher(st)}
	if client != nil {
		deps.GenAI = client
	}
	return NewConversationFlow(NewStoreBasedStateManager(st), deps, DefaultHistoryLimit), st
}

// handle runs one module turn with empty history.
func handle(t *testing.T, m Module, msg string, mem models.Memory) Result {
	t.Helper()
	res, err := m.Handle(context.Background(), Turn{ConversationID: "c1", Message: msg, Memory: mem})
	if err != nil {
		t.Fatalf("%s Handle(%q) returned error: %v", m.Route(), msg, err)
	}
	return res
}

package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

func newTestPurchaseModule(t *testing.T) (*PurchaseModule, *store.InMemoryStore) {
	t.Helper()
	st := newTestCatalog(t)
	return NewPurchaseModule(st, NewProductSearcher(st), st), st
}

var stepOrder = map[models.BuyStep]int{
	models.BuyStepProduct: 1,
	models.BuyStepName:    2,
	models.BuyStepPhone:   3,
}

func TestPurchaseModule_RequiresBuyNow(t *testing.T) {
	m, _ := newTestPurchaseModule(t)
	res := handle(t, m, "checkout", models.NewMemory())
	if res.Reply != startPurchaseMsg {
		t.Errorf("expected start instructions, got %q", res.Reply)
	}
	if res.Memory.BuyFlow.Active {
		t.Error("expected buy flow to stay inactive")
	}
	if res.Memory.ActiveFlow != models.RouteSales {
		t.Errorf("expected release to sales, got %s", res.Memory.ActiveFlow)
	}
}

func TestPurchaseModule_UnknownStepResets(t *testing.T) {
	tests := []struct {
		name string
		flow models.BuyFlow
	}{
		{"unknown step", models.BuyFlow{Active: true, Step: "bogus", ProductSKU: "PHN-SAM-S24", Name: "Rashmi"}},
		{"missing step", models.BuyFlow{Active: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st := newTestPurchaseModule(t)
			mem := models.NewMemory()
			mem.ActiveFlow = models.RoutePurchase
			mem.BuyFlow = tt.flow

			res := handle(t, m, "0771234567", mem)
			if res.Memory.BuyFlow != (models.BuyFlow{}) {
				t.Errorf("expected buy flow reset, got %+v", res.Memory.BuyFlow)
			}
			if res.Memory.ActiveFlow != models.RouteSales {
				t.Errorf("expected release to sales, got %s", res.Memory.ActiveFlow)
			}
			if !strings.Contains(res.Reply, `"buy now"`) {
				t.Errorf("expected restart instructions, got %q", res.Reply)
			}
			if len(st.Leads()) != 0 {
				t.Errorf("expected no lead, got %d", len(st.Leads()))
			}
		})
	}
}

func TestPurchaseModule_FullFlow(t *testing.T) {
	m, st := newTestPurchaseModule(t)
	mem := models.NewMemory()

	steps := []struct {
		msg      string
		wantStep models.BuyStep
		contains string
	}{
		{"buy now", models.BuyStepProduct, "What product model or SKU"},
		{"buy now", models.BuyStepProduct, "What product model or SKU"},
		{"sku: phn-sam-s24", models.BuyStepName, "Buying: Samsung Galaxy S24"},
		{"buy", models.BuyStepName, "only your name"},
		{"Rashmi Perera", models.BuyStepPhone, "phone number"},
		{"call me maybe", models.BuyStepPhone, "valid phone number"},
	}
	prev := 0
	for _, s := range steps {
		res := handle(t, m, s.msg, mem)
		if res.Memory.BuyFlow.Step != s.wantStep {
			t.Fatalf("%q: expected step %s, got %s", s.msg, s.wantStep, res.Memory.BuyFlow.Step)
		}
		if !strings.Contains(res.Reply, s.contains) {
			t.Errorf("%q: expected reply to contain %q, got %q", s.msg, s.contains, res.Reply)
		}
		if n := stepOrder[res.Memory.BuyFlow.Step]; n < prev {
			t.Fatalf("%q: buy step went backwards", s.msg)
		} else {
			prev = n
		}
		mem = res.Memory
	}

	res := handle(t, m, "077 123 4567", mem)
	if !strings.HasPrefix(res.Reply, "Done! Lead created.") {
		t.Fatalf("expected lead confirmation, got %q", res.Reply)
	}
	leads := st.Leads()
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}
	lead := leads[0]
	if lead.Name != "Rashmi Perera" || lead.Phone != "0771234567" || lead.Interest != "Samsung Galaxy S24" {
		t.Errorf("unexpected lead: %+v", lead)
	}
	if lead.Notes != "SKU: PHN-SAM-S24" {
		t.Errorf("expected SKU note, got %q", lead.Notes)
	}
	if res.Memory.BuyFlow != (models.BuyFlow{}) {
		t.Errorf("expected buy flow reset, got %+v", res.Memory.BuyFlow)
	}
	if res.Memory.LastLeadID != lead.ID || res.Memory.LastLeadProduct != "Samsung Galaxy S24" {
		t.Errorf("unexpected lead memory: %+v", res.Memory)
	}

	outbox := st.OutboxMessages()
	if len(outbox) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(outbox))
	}
	if outbox[0].Kind != store.OutboxKindLeadCreated {
		t.Errorf("expected kind %s, got %s", store.OutboxKindLeadCreated, outbox[0].Kind)
	}
}

func TestPurchaseModule_SKUMustMatchExactly(t *testing.T) {
	m, _ := newTestPurchaseModule(t)
	mem := models.NewMemory()
	mem.BuyFlow = models.BuyFlow{Active: true, Step: models.BuyStepProduct}

	res := handle(t, m, "PHN-SAM-S2", mem)
	if !strings.Contains(res.Reply, "couldn't find a product with SKU **PHN-SAM-S2**") {
		t.Errorf("expected unknown SKU reply, got %q", res.Reply)
	}
	if res.Memory.BuyFlow.Step != models.BuyStepProduct {
		t.Errorf("expected to stay at product step, got %s", res.Memory.BuyFlow.Step)
	}
}

func TestPurchaseModule_ProductSelection(t *testing.T) {
	m, _ := newTestPurchaseModule(t)
	mem := models.NewMemory()
	mem.BuyFlow = models.BuyFlow{Active: true, Step: models.BuyStepProduct}

	many := handle(t, m, "samsung", mem)
	if !strings.HasPrefix(many.Reply, "I found multiple products.") {
		t.Fatalf("expected pick list, got %q", many.Reply)
	}
	for _, sku := range []string{"PHN-SAM-S24", "TV-SAM-55Q"} {
		if !strings.Contains(many.Reply, sku) {
			t.Errorf("expected pick list to contain %s, got %q", sku, many.Reply)
		}
	}
	if many.Memory.BuyFlow.Step != models.BuyStepProduct {
		t.Errorf("expected to stay at product step, got %s", many.Memory.BuyFlow.Step)
	}

	one := handle(t, m, "iphone 15 pro", mem)
	if one.Memory.BuyFlow.ProductSKU != "PHN-APL-15P" || one.Memory.BuyFlow.Step != models.BuyStepName {
		t.Errorf("expected iPhone selected, got %+v", one.Memory.BuyFlow)
	}

	none := handle(t, m, "toaster", mem)
	if !strings.Contains(none.Reply, "couldn't find that product") {
		t.Errorf("expected not-found reply, got %q", none.Reply)
	}
}

func TestPurchaseModule_WithoutOutbox(t *testing.T) {
	st := newTestCatalog(t)
	m := NewPurchaseModule(st, NewProductSearcher(st), nil)
	mem := models.NewMemory()
	mem.BuyFlow = models.BuyFlow{Active: true, Step: models.BuyStepPhone, ProductName: "LG 260L Inverter Fridge", Name: "Sunil"}

	res := handle(t, m, "+94 77 123 4567", mem)
	if !strings.HasPrefix(res.Reply, "Done! Lead created.") {
		t.Fatalf("expected lead confirmation, got %q", res.Reply)
	}
	if got := st.Leads()[0].Phone; got != "+94771234567" {
		t.Errorf("expected normalised phone, got %q", got)
	}
	if len(st.OutboxMessages()) != 0 {
		t.Error("expected no outbox message without an outbox")
	}
}

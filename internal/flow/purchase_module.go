package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/intent"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/notify"
	"github.com/BTreeMap/CartPipe/internal/store"
)

const (
	pickListLimit    = 6
	startPurchaseMsg = `To start a purchase, type exactly: "buy now".`
	askProduct       = "What product model or SKU do you want to buy?"
)

// nameBlocklist rejects command-like replies at the name step.
var nameBlocklist = intent.Set{"buy now", "buy", "purchase", "checkout", "order", "track", "ticket", "#"}

// PurchaseModule collects product, name and phone and records a lead.
type PurchaseModule struct {
	catalog  store.CatalogStore
	products *ProductSearcher
	outbox   store.OutboxRepo
}

// NewPurchaseModule creates the checkout module. A nil outbox disables the
// sales notification.
func NewPurchaseModule(catalog store.CatalogStore, products *ProductSearcher, outbox store.OutboxRepo) *PurchaseModule {
	return &PurchaseModule{catalog: catalog, products: products, outbox: outbox}
}

func (m *PurchaseModule) Route() models.Route { return models.RoutePurchase }

func (m *PurchaseModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	mem := turn.Memory.Clone()
	mem.ActiveFlow = models.RoutePurchase
	msg := strings.TrimSpace(turn.Message)

	if !mem.BuyFlow.Active {
		if !intent.IsBuyNow(msg) {
			mem.ActiveFlow = models.RouteSales
			return Result{Reply: startPurchaseMsg, Memory: mem}, nil
		}
		mem.BuyFlow = models.BuyFlow{Active: true, Step: models.BuyStepProduct}
		slog.Debug("PurchaseModule.Handle: buy flow started", "conversationID", turn.ConversationID)
		return Result{Reply: "Sure. " + askProduct + " (Example: iPhone 15 Pro 256GB or SKU: PHN-APL-15P)", Memory: mem}, nil
	}

	switch mem.BuyFlow.Step {
	case models.BuyStepProduct:
		return m.productStep(ctx, msg, mem)
	case models.BuyStepName:
		return m.nameStep(msg, mem)
	case models.BuyStepPhone:
		return m.phoneStep(ctx, turn.ConversationID, msg, mem)
	default:
		slog.Warn("PurchaseModule.Handle: unknown buy step, resetting", "step", mem.BuyFlow.Step, "conversationID", turn.ConversationID)
		mem.BuyFlow = models.BuyFlow{}
		mem.ActiveFlow = models.RouteSales
		return Result{Reply: `Something went wrong with the buy flow. Type "buy now" to start again.`, Memory: mem}, nil
	}
}

func (m *PurchaseModule) productStep(ctx context.Context, msg string, mem models.Memory) (Result, error) {
	if intent.IsBuyNow(msg) {
		return Result{Reply: askProduct, Memory: mem}, nil
	}

	var matches []models.Product
	if sku, ok := intent.SKU(msg); ok {
		p, err := m.catalog.GetProductBySKU(ctx, sku)
		if err != nil {
			return Result{}, fmt.Errorf("failed to get product by sku: %w", err)
		}
		if p == nil {
			return Result{Reply: fmt.Sprintf("I couldn't find a product with SKU **%s**. Please check the SKU and try again.", sku), Memory: mem}, nil
		}
		matches = []models.Product{*p}
	} else {
		found, err := m.products.Search(ctx, msg, false)
		if err != nil {
			return Result{}, err
		}
		matches = found
	}

	if len(matches) == 0 {
		return Result{Reply: "I couldn't find that product. Please reply with the exact model name or SKU.", Memory: mem}, nil
	}
	if len(matches) > 1 {
		return Result{Reply: pickList(matches), Memory: mem}, nil
	}

	chosen := matches[0]
	mem.BuyFlow.ProductName = chosen.Name
	mem.BuyFlow.ProductSKU = chosen.SKU
	mem.BuyFlow.Step = models.BuyStepName
	return Result{Reply: fmt.Sprintf("Great. Buying: %s\nWhat's your name?", chosen.Name), Memory: mem}, nil
}

func (m *PurchaseModule) nameStep(msg string, mem models.Memory) (Result, error) {
	if !looksLikeName(msg) {
		return Result{Reply: "Please reply with your name (only your name).", Memory: mem}, nil
	}
	mem.BuyFlow.Name = msg
	mem.BuyFlow.Step = models.BuyStepPhone
	return Result{Reply: "Thanks. What's your phone number?", Memory: mem}, nil
}

func (m *PurchaseModule) phoneStep(ctx context.Context, conversationID, msg string, mem models.Memory) (Result, error) {
	phone, ok := intent.Phone(msg)
	if !ok {
		return Result{Reply: "Please reply with a valid phone number (e.g., 07XXXXXXXX or +94XXXXXXXXX).", Memory: mem}, nil
	}

	flow := mem.BuyFlow
	lead := models.Lead{
		ConversationID: conversationID,
		Name:           flow.Name,
		Phone:          phone,
		Interest:       flow.ProductName,
	}
	if flow.ProductSKU != "" {
		lead.Notes = "SKU: " + flow.ProductSKU
	}
	created, err := m.catalog.CreateLead(ctx, lead)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create lead: %w", err)
	}
	slog.Info("Lead created", "conversationID", conversationID, "leadID", created.ID, "product", created.Interest)

	if m.outbox != nil {
		if _, err := notify.EnqueueLead(m.outbox, created); err != nil {
			slog.Warn("PurchaseModule.phoneStep: lead notification not queued", "leadID", created.ID, "error", err)
		}
	}

	mem.LastLeadID = created.ID
	mem.LastLeadProduct = flow.ProductName
	mem.BuyFlow = models.BuyFlow{}
	mem.ActiveFlow = models.RouteSales
	reply := fmt.Sprintf("Done! Lead created.\nLead ID: %d\nProduct: %s\nName: %s\nPhone: %s",
		created.ID, flow.ProductName, flow.Name, phone)
	return Result{Reply: reply, Memory: mem}, nil
}

func looksLikeName(text string) bool {
	t := strings.TrimSpace(text)
	if len([]rune(t)) < 2 {
		return false
	}
	if _, isPhone := intent.Phone(t); isPhone {
		return false
	}
	return !nameBlocklist.Match(strings.ToLower(t))
}

func pickList(products []models.Product) string {
	var b strings.Builder
	b.WriteString("I found multiple products. Reply with the SKU you want:")
	for i, p := range products {
		if i == pickListLimit {
			break
		}
		fmt.Fprintf(&b, "\n- %s [SKU: %s]", p.Name, p.SKU)
	}
	return b.String()
}

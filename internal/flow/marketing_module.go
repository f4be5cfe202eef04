package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

const marketingSystemPrompt = `You are the Marketing Agent for ElectroMart.
Explain current promotions clearly. If the user asks for a deal, suggest 1-3 promotions.
Short, friendly, no fluff.

Rules (STRICT):
- Reply fully in ONE message. Never imply future replies.
- Always mention prices in LKR (Sri Lankan Rupees).
- Only mention promotions from the context; never invent one.
- If asked about purchasing, tell them to type exactly: "buy now" to start the purchase flow.
- If the user asks about deals without a product category, budget or promotion type,
  ask ONE short clarifying question with 2-4 quick options.`

const (
	promotionFetchLimit = 10
	promotionListLimit  = 5
)

// MarketingModule lists promotions.
type MarketingModule struct {
	catalog     store.CatalogStore
	genaiClient genai.ClientInterface
}

func NewMarketingModule(catalog store.CatalogStore, genaiClient genai.ClientInterface) *MarketingModule {
	return &MarketingModule{catalog: catalog, genaiClient: genaiClient}
}

func (m *MarketingModule) Route() models.Route { return models.RouteMarketing }

func (m *MarketingModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	mem := turn.Memory.Clone()
	mem.ActiveFlow = models.RouteMarketing

	promos, err := m.catalog.ListPromotions(ctx, promotionFetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list promotions: %w", err)
	}

	if m.genaiClient != nil {
		prompt := fmt.Sprintf("User: %s\nContext: %s", turn.Message, contextJSON(map[string]interface{}{"promotions": promos}))
		out, err := m.genaiClient.GenerateWithTemperature(ctx, chatMessages(marketingSystemPrompt, turn.History, prompt), marketingTemperature)
		if err == nil && strings.TrimSpace(out) != "" {
			return Result{Reply: out, Memory: mem}, nil
		}
		slog.Warn("MarketingModule.Handle: model call failed, listing promotions", "error", err)
	}

	if len(promos) == 0 {
		return Result{Reply: "No active promotions right now.", Memory: mem}, nil
	}
	var b strings.Builder
	b.WriteString("Current promotions:")
	for i, p := range promos {
		if i == promotionListLimit {
			break
		}
		fmt.Fprintf(&b, "\n- %s (%s%%): %s", p.Title, strconv.FormatFloat(p.DiscountPercent, 'f', -1, 64), p.Details)
	}
	return Result{Reply: b.String(), Memory: mem}, nil
}

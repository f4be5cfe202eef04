package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/intent"
	"github.com/BTreeMap/CartPipe/internal/models"
)

const salesSystemPrompt = `You are a helpful Sales Agent for ElectroMart.

Your role is to help customers with product specifications and comparisons, pricing
(always in LKR), stock availability and recommendations.

Guidelines:
- Be friendly, helpful, and concise.
- Only recommend products that are in stock; 1-3 recommendations maximum.
- Use only the products provided in the context.
- If asked about purchasing / checkout / buying now, tell them to type exactly: "buy now"
  to start the purchase flow in this chat. Do not refer them to a sales team.
- If the request is vague, ask ONE short clarifying question with 2-4 quick options.`

const (
	maxListed      = 10
	maxRecommended = 3
	noProductMsg   = "I couldn't find a matching product in stock. Try a brand/model (e.g., \"iPhone 15\", \"Samsung 55 QLED\", \"LG 260L fridge\")."
	salesGreeting  = "Hi! Tell me what you're looking for (e.g., iPhone 15 Pro price, best TV under 300k, fridge for a small family)."
)

var (
	followUpPhrases = intent.Set{
		"compare", "which one", "which", "that one", "this one", "the first", "the second",
		"price", "spec", "specs", "details", "more details", "what about", "tell me more",
	}
	stockWords          = intent.Set{"stock", "available", "availability", "in stock", "out of stock"}
	recommendationWords = intent.Set{"recommend", "suggest", "best", "which phone", "which tv", "which fridge", "what should i buy"}
)

// SalesModule answers product questions from the catalog.
type SalesModule struct {
	products    *ProductSearcher
	genaiClient genai.ClientInterface
}

func NewSalesModule(products *ProductSearcher, genaiClient genai.ClientInterface) *SalesModule {
	return &SalesModule{products: products, genaiClient: genaiClient}
}

func (m *SalesModule) Route() models.Route { return models.RouteSales }

func (m *SalesModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	mem := turn.Memory.Clone()
	mem.ActiveFlow = models.RouteSales
	msg := strings.TrimSpace(turn.Message)
	if msg == "" || intent.IsGreeting(msg) {
		return Result{Reply: salesGreeting, Memory: mem}, nil
	}
	lower := strings.ToLower(msg)
	stockQuestion := stockWords.Match(lower)

	var products []models.Product
	if isFollowUp(lower) && len(mem.LastProducts) > 0 {
		products = append(products, mem.LastProducts...)
	} else {
		found, err := m.products.Search(ctx, msg, !stockQuestion)
		if err != nil {
			return Result{}, err
		}
		// Every explicit search replaces the follow-up list, even an empty one.
		mem.LastProducts = found
		products = found
	}

	if !stockQuestion {
		products = inStock(products)
	}
	if recommendationWords.Match(lower) && len(products) > maxRecommended {
		products = products[:maxRecommended]
	}

	if m.genaiClient != nil {
		if reply, ok := m.replyWithModel(ctx, turn, msg, products); ok {
			return Result{Reply: reply, Memory: mem}, nil
		}
	}
	if len(products) == 0 {
		return Result{Reply: noProductMsg, Memory: mem}, nil
	}
	return Result{Reply: formatProducts(products, maxListed), Memory: mem}, nil
}

func (m *SalesModule) replyWithModel(ctx context.Context, turn Turn, msg string, products []models.Product) (string, bool) {
	productCtx := "(No matching products found in stock)"
	if len(products) > 0 {
		productCtx = formatProducts(products, maxListed)
	}
	prompt := "Rules:\n" +
		"- Only use the products listed in Available products.\n" +
		"- If no product matches, ask one clarifying question (budget / size / brand).\n" +
		"- Prices must be in LKR.\n" +
		"- If asked to buy/checkout, tell them to type exactly: \"buy now\" to start the purchase flow.\n\n" +
		productCtx + "\n\nCustomer question: " + msg
	out, err := m.genaiClient.GenerateWithTemperature(ctx, chatMessages(salesSystemPrompt, turn.History, prompt), salesTemperature)
	if err != nil {
		slog.Warn("SalesModule.replyWithModel: model call failed, using product listing", "error", err)
		return "", false
	}
	if strings.TrimSpace(out) == "" {
		return "", false
	}
	return out, true
}

// isFollowUp reports vague follow-ups that refer to the last shown products.
func isFollowUp(lower string) bool {
	return followUpPhrases.Match(lower) || intent.WordCount(lower) <= 3
}

func inStock(products []models.Product) []models.Product {
	out := products[:0:0]
	for _, p := range products {
		if p.InStock {
			out = append(out, p)
		}
	}
	return out
}

func formatProducts(products []models.Product, limit int) string {
	if len(products) == 0 {
		return "No matching products found."
	}
	var b strings.Builder
	b.WriteString("Available products:")
	for i, p := range products {
		if i == limit {
			break
		}
		stock := "In stock"
		if !p.InStock {
			stock = "Out of stock"
		}
		fmt.Fprintf(&b, "\n• %s - %s (%s) [SKU: %s]", p.Name, models.FormatLKR(p.Price), stock, p.SKU)
	}
	return b.String()
}

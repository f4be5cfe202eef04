package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/intent"
	"github.com/BTreeMap/CartPipe/internal/models"
)

const routerSystemPrompt = `You are an intent router for an electronics store.
Return ONLY one label: sales, marketing, support, orders, purchase.

Rules (strict):
- purchase: user wants to start buying right now / checkout / how to buy / purchase now / buy now.
- sales: buying intent, product inquiries, specs, pricing, availability/stock, comparisons, recommendations,
  payment methods (card/bank/COD), delivery location for a purchase, bundles/offers when selecting products.
- orders: ONLY existing order flows: tracking/status/shipping updates, returns/refunds/cancel/exchange for an order.
- support: troubleshooting, warranty, repairs, setup, technical help, support tickets.
- marketing: promotions/discounts/campaigns (when not actively buying a product).

Return exactly one label word only.`

// signals are the keyword hits of one message, computed once per turn.
type signals struct {
	raw   string
	lower string

	purchase   bool
	greeting   bool
	bareNumber bool
	orderRef   bool

	sales     bool
	orders    bool
	support   bool
	marketing bool
	policy    bool

	ordersContext bool
	ordersTieBrk  bool
	returnReason  bool
}

func scan(message string) signals {
	lower := intent.Normalize(message)
	_, bare := intent.BareNumber(message)
	_, ref := intent.OrderReference(message)
	return signals{
		raw:           message,
		lower:         lower,
		purchase:      intent.IsPurchasePhrase(message),
		greeting:      intent.IsGreeting(message),
		bareNumber:    bare,
		orderRef:      ref,
		sales:         intent.Sales.Match(lower),
		orders:        intent.Orders.Match(lower),
		support:       intent.Support.Match(lower),
		marketing:     intent.Marketing.Match(lower),
		policy:        intent.Policy.Match(lower),
		ordersContext: intent.OrdersContext.Match(lower),
		ordersTieBrk:  intent.OrdersTieBreak.Match(lower),
		returnReason:  intent.HasReturnReason(message),
	}
}

// ordersSignal is an orders keyword or an explicit order reference.
func (s signals) ordersSignal() bool { return s.orders || s.orderRef }

// salesOnly is a sales signal with no orders signal alongside it.
func (s signals) salesOnly() bool { return s.sales && !s.ordersSignal() }

// rule returns a route and true when it decides the turn.
type rule struct {
	name  string
	match func(s signals, mem models.Memory) (models.Route, bool)
}

// rules is the routing decision table. The first rule that fires wins.
var rules = []rule{
	{"purchase_phrase", func(s signals, mem models.Memory) (models.Route, bool) {
		return models.RoutePurchase, s.purchase
	}},
	{"sticky_purchase", func(s signals, mem models.Memory) (models.Route, bool) {
		if mem.ActiveFlow != models.RoutePurchase {
			return "", false
		}
		switch {
		case s.support:
			return models.RouteSupport, true
		case s.ordersSignal():
			return models.RouteOrders, true
		case s.marketing:
			return models.RouteMarketing, true
		}
		return models.RoutePurchase, true
	}},
	{"sticky_support", func(s signals, mem models.Memory) (models.Route, bool) {
		if mem.ActiveFlow != models.RouteSupport {
			return "", false
		}
		// A pending ticket offer holds yes/no replies, not a new topic.
		switch {
		case mem.TicketPending && s.support:
			return models.RouteSupport, true
		case s.sales:
			return models.RouteSales, true
		case s.ordersSignal():
			return models.RouteOrders, true
		case s.marketing:
			return models.RouteMarketing, true
		case s.support || mem.TicketPending:
			return models.RouteSupport, true
		}
		// "ok" and similar replies fall through
		return "", false
	}},
	{"return_pending", func(s signals, mem models.Memory) (models.Route, bool) {
		if !mem.ReturnPending {
			return "", false
		}
		if s.bareNumber || s.ordersSignal() || s.returnReason {
			return models.RouteOrders, true
		}
		switch {
		case s.support:
			return models.RouteSupport, true
		case s.marketing:
			return models.RouteMarketing, true
		case s.sales:
			return models.RouteSales, true
		}
		return models.RouteOrders, true
	}},
	{"sticky_orders", func(s signals, mem models.Memory) (models.Route, bool) {
		if mem.ActiveFlow != models.RouteOrders {
			return "", false
		}
		switch {
		case s.policy && !s.orderRef:
			return models.RouteOrders, true
		case s.bareNumber:
			return models.RouteOrders, true
		case s.support:
			return models.RouteSupport, true
		case s.marketing:
			return models.RouteMarketing, true
		case s.salesOnly():
			return models.RouteSales, true
		}
		return models.RouteOrders, true
	}},
	{"greeting", func(s signals, mem models.Memory) (models.Route, bool) {
		return models.RouteSales, s.greeting
	}},
	{"sticky_sales", func(s signals, mem models.Memory) (models.Route, bool) {
		if mem.ActiveFlow != models.RouteSales {
			return "", false
		}
		switch {
		case s.support:
			return models.RouteSupport, true
		case s.ordersSignal():
			return models.RouteOrders, true
		case s.marketing:
			return models.RouteMarketing, true
		}
		return models.RouteSales, true
	}},
	{"keywords", func(s signals, mem models.Memory) (models.Route, bool) {
		if s.orderRef && (s.orders || s.ordersContext) {
			return models.RouteOrders, true
		}
		if s.sales && s.orders {
			if s.ordersTieBrk {
				return models.RouteOrders, true
			}
			return models.RouteSales, true
		}
		switch {
		case s.orders:
			return models.RouteOrders, true
		case s.support:
			return models.RouteSupport, true
		case s.marketing:
			return models.RouteMarketing, true
		case s.sales:
			return models.RouteSales, true
		}
		return "", false
	}},
}

// Router decides which domain owns a turn.
type Router struct {
	genaiClient genai.ClientInterface
}

// NewRouter creates a router. A nil client disables the model fallback.
func NewRouter(genaiClient genai.ClientInterface) *Router {
	return &Router{genaiClient: genaiClient}
}

// Route returns the route for message and the memory after routing. The
// returned memory always has ActiveFlow set to the route. Leaving the orders
// domain releases a pending return and leaving support releases a pending
// ticket offer.
func (r *Router) Route(ctx context.Context, message string, history []models.Message, mem models.Memory) (models.Route, models.Memory) {
	s := scan(message)
	route, ruleName := models.Route(""), ""
	for _, rl := range rules {
		if rt, ok := rl.match(s, mem); ok {
			route, ruleName = rt, rl.name
			break
		}
	}
	if route == "" {
		route, ruleName = r.fallback(ctx, message, history), "fallback"
	}
	slog.Debug("Router.Route: decided", "route", route, "rule", ruleName, "previous", mem.ActiveFlow)

	next := mem.Clone()
	next.ActiveFlow = route
	if route != models.RouteOrders && next.ReturnPending {
		slog.Debug("Router.Route: topic switch releases pending return", "route", route)
		next.ReturnPending = false
	}
	if route != models.RouteSupport && next.TicketPending {
		next.TicketPending = false
	}
	return route, next
}

// fallback asks the model for a label and coerces anything else to sales.
func (r *Router) fallback(ctx context.Context, message string, history []models.Message) models.Route {
	if r.genaiClient == nil {
		return models.RouteSales
	}
	out, err := r.genaiClient.GenerateWithTemperature(ctx, chatMessages(routerSystemPrompt, history, message), routerTemperature)
	if err != nil {
		slog.Warn("Router.fallback: model call failed, defaulting to sales", "error", err)
		return models.RouteSales
	}
	route, ok := models.ParseRoute(out)
	if !ok {
		slog.Warn("Router.fallback: unrecognised label, defaulting to sales", "label", out)
		return models.RouteSales
	}
	return route
}

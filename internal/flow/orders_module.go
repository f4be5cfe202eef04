package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/intent"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"golang.org/x/sync/errgroup"
)

const ordersSystemPrompt = `You are the Orders & Logistics Agent for ElectroMart.
Handle tracking/shipping/delivery/returns/refunds/cancel/exchange for EXISTING orders.
Use order info and FAQ policy context.

Return flow (STRICT):
- Do NOT create a return until you have BOTH: order_id and a clear reason.
- If user asks to return but provides no reason, ask for the reason (one question).
- If return_pending is true, treat the user message as the reason ONLY if it is a real reason.

Rules (STRICT):
- Reply fully in ONE message.
- Never say "please hold", "I'll check", or imply future replies.
- Keep it concise and practical.
- Always mention prices in LKR (Sri Lankan Rupees).
- If the order id is missing, ask ONE short question for it with 2-3 example replies.`

const (
	faqContextSize   = 4
	askReturnReason  = "What's the reason for the return? (e.g., damaged, wrong item, not working, changed mind)"
	askOrderNumber   = "Please share your order number (e.g., Order 101)."
	askReturnOrderID = "Please provide your order ID to proceed with the return."
	askOrderIntent   = "Would you like the status of your order or to start a return? " +
		"For a return, tell me the order ID and the reason."
)

// OrdersModule handles tracking, order status, policy questions and the
// return sub-flow.
type OrdersModule struct {
	catalog     store.CatalogStore
	faq         faq.Searcher
	genaiClient genai.ClientInterface
}

func NewOrdersModule(catalog store.CatalogStore, searcher faq.Searcher, genaiClient genai.ClientInterface) *OrdersModule {
	return &OrdersModule{catalog: catalog, faq: searcher, genaiClient: genaiClient}
}

func (m *OrdersModule) Route() models.Route { return models.RouteOrders }

// ordersTurn carries per-turn facts through the orders step functions.
type ordersTurn struct {
	msg       string
	lower     string
	msgID     int64 // order id given in this message
	orderID   int64 // msgID or the remembered order
	action    bool
	hasReason bool
}

func (m *OrdersModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	mem := turn.Memory.Clone()
	mem.ActiveFlow = models.RouteOrders
	msg := strings.TrimSpace(turn.Message)
	lower := strings.ToLower(msg)

	// return request lookups short-circuit everything else
	if rrID, ok := intent.ReturnRequestID(msg); ok {
		return m.lookupReturnRequest(ctx, rrID, mem, true)
	}
	if mem.LastReturnRequestID > 0 && intent.ReturnFollowUp.Match(lower) {
		res, err := m.lookupReturnRequest(ctx, mem.LastReturnRequestID, mem, false)
		if err != nil || res.Reply != "" {
			return res, err
		}
	}

	t := ordersTurn{msg: msg, lower: lower}
	if id, ok := intent.OrderID(msg); ok {
		t.msgID = id
		mem.LastOrderID = id
	}
	t.orderID = mem.LastOrderID
	t.action = intent.WantsReturnAction(lower)
	t.hasReason = intent.HasReturnReason(msg)

	if mem.ReturnPending && !t.action && intent.TopicSwitch.Match(lower) {
		slog.Debug("OrdersModule.Handle: topic switch releases pending return", "conversationID", turn.ConversationID)
		mem.ReturnPending = false
	}

	if t.action && !t.hasReason {
		mem.ReturnPending = true
		if t.orderID > 0 {
			return Result{Reply: fmt.Sprintf("Please provide a reason for returning order **%d** (e.g., damaged, wrong item, not working, changed mind).", t.orderID), Memory: mem}, nil
		}
		return Result{Reply: "Please provide your order ID and the reason for the return (e.g., Order 101 - damaged).", Memory: mem}, nil
	}

	if mem.ReturnPending {
		return m.collectReturnReason(ctx, turn, t, mem)
	}

	if t.action && t.hasReason {
		if t.orderID == 0 {
			mem.ReturnPending = true
			return Result{Reply: "Please share your order number (e.g., Order 101) so I can start the return.", Memory: mem}, nil
		}
		return m.createReturn(ctx, turn.ConversationID, t.orderID, msg, msg, mem)
	}

	return m.answer(ctx, turn, t, mem)
}

// collectReturnReason runs while a return is waiting for its reason.
func (m *OrdersModule) collectReturnReason(ctx context.Context, turn Turn, t ordersTurn, mem models.Memory) (Result, error) {
	if t.msgID > 0 && intent.WordCount(t.msg) <= 3 && !t.hasReason {
		return Result{Reply: fmt.Sprintf("Got it, order **%d**. %s", t.msgID, askReturnReason), Memory: mem}, nil
	}
	if !t.hasReason {
		return Result{Reply: askReturnReason, Memory: mem}, nil
	}
	if t.orderID == 0 {
		return Result{Reply: askReturnOrderID, Memory: mem}, nil
	}
	return m.createReturn(ctx, turn.ConversationID, t.orderID, t.msg, t.msg, mem)
}

// createReturn creates the return request or reports the open one. A
// missing order keeps the return pending so the user can correct the id.
func (m *OrdersModule) createReturn(ctx context.Context, conversationID string, orderID int64, reason, notes string, mem models.Memory) (Result, error) {
	rr, exists, err := m.catalog.CreateReturnRequest(ctx, orderID, reason, notes)
	if errors.Is(err, store.ErrNotFound) {
		mem.ReturnPending = true
		return Result{Reply: fmt.Sprintf("I couldn't find order %d. Please double-check the number.", orderID), Memory: mem}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to create return request: %w", err)
	}
	mem.ReturnPending = false
	mem.LastOrderID = orderID
	mem.LastReturnRequestID = rr.ID
	if exists {
		slog.Debug("OrdersModule: open return request reused", "conversationID", conversationID, "returnRequestID", rr.ID)
		return Result{Reply: fmt.Sprintf("You already have a return request: **#%d** (status: %s).", rr.ID, rr.Status), Memory: mem}, nil
	}
	slog.Info("Return request created", "conversationID", conversationID, "orderID", orderID, "returnRequestID", rr.ID)
	return Result{Reply: fmt.Sprintf("Return request created: **#%d** (status: %s).", rr.ID, rr.Status), Memory: mem}, nil
}

// lookupReturnRequest summarises a return request. With reportMissing false
// an unknown id yields an empty reply so the caller can carry on.
func (m *OrdersModule) lookupReturnRequest(ctx context.Context, id int64, mem models.Memory, reportMissing bool) (Result, error) {
	rr, err := m.catalog.GetReturnRequest(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get return request: %w", err)
	}
	if rr == nil {
		if !reportMissing {
			return Result{}, nil
		}
		return Result{Reply: fmt.Sprintf("I couldn't find return request **#%d**.", id), Memory: mem}, nil
	}
	mem.LastReturnRequestID = rr.ID
	var product *models.Product
	if rr.Order != nil {
		product = rr.Order.Product
	}
	reply := fmt.Sprintf("Return request **#%d** (**%s**).\nOrder: **%d**\nItem: **%s**\nReason: %s",
		rr.ID, rr.Status, rr.OrderID, itemLine(product), rr.Reason)
	return Result{Reply: reply, Memory: mem}, nil
}

// answer handles status and policy questions.
func (m *OrdersModule) answer(ctx context.Context, turn Turn, t ordersTurn, mem models.Memory) (Result, error) {
	var (
		order *models.Order
		faqs  []models.FAQEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	if t.orderID > 0 {
		g.Go(func() error {
			o, err := m.catalog.GetOrder(gctx, t.orderID)
			if err != nil {
				return fmt.Errorf("failed to get order: %w", err)
			}
			order = o
			return nil
		})
	}
	if m.faq != nil {
		g.Go(func() error {
			res, err := m.faq.Search(gctx, t.msg, faqContextSize)
			if err != nil {
				slog.Warn("OrdersModule.answer: faq search failed", "error", err)
				return nil
			}
			faqs = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if order != nil {
		mem.LastOrderID = order.ID
	}

	if m.genaiClient != nil {
		if res, ok := m.answerWithModel(ctx, turn, t, order, faqs, mem); ok {
			return res, nil
		}
	}

	isInfo := intent.IsInfoQuestion(t.lower) || intent.Policy.Match(t.lower)
	if isInfo && t.msgID == 0 && len(faqs) > 0 {
		return Result{Reply: faqAnswer(faqs), Memory: mem}, nil
	}
	switch {
	case t.orderID == 0:
		return Result{Reply: askOrderNumber, Memory: mem}, nil
	case order == nil:
		return Result{Reply: fmt.Sprintf("I couldn't find order %d. Please double-check the number.", t.orderID), Memory: mem}, nil
	}
	return Result{Reply: orderSummary(order), Memory: mem}, nil
}

// answerWithModel asks the model for a reply and applies the return guard.
// ok is false when the model failed and the deterministic reply should be used.
func (m *OrdersModule) answerWithModel(ctx context.Context, turn Turn, t ordersTurn, order *models.Order, faqs []models.FAQEntry, mem models.Memory) (Result, bool) {
	orderCtx := map[string]interface{}{"found": order != nil}
	switch {
	case order != nil:
		orderCtx["order"] = order
	case t.orderID == 0:
		orderCtx["need_order_id"] = true
	default:
		orderCtx["order_id"] = t.orderID
	}
	prompt := fmt.Sprintf("User: %s\nContext: %s\n\n"+
		"If you want to create a return, reply with: %s <reason>\n"+
		"Only output %s if:\n"+
		"- order.found is true, AND\n"+
		"- the user message contains a real reason (keywords or 'because ...') OR return_pending=true and the message is a reason.\n"+
		"Otherwise, ask for the missing info (order id and/or reason).",
		t.msg,
		contextJSON(map[string]interface{}{
			"order":          orderCtx,
			"faq":            faqs,
			"wants_return":   t.action,
			"return_pending": mem.ReturnPending,
		}),
		ReturnSentinel, ReturnSentinel)

	out, err := m.genaiClient.GenerateWithTemperature(ctx, chatMessages(ordersSystemPrompt, turn.History, prompt), ordersTemperature)
	if err != nil {
		slog.Warn("OrdersModule.answerWithModel: model call failed, using deterministic reply", "error", err)
		return Result{}, false
	}

	d := CheckReturnSentinel(out, ReturnGuard{
		OrderID:       t.orderID,
		OrderFound:    order != nil,
		UserMessage:   t.msg,
		ReturnPending: mem.ReturnPending,
	})
	if !d.Sentinel {
		if strings.TrimSpace(out) == "" {
			return Result{}, false
		}
		return Result{Reply: out, Memory: mem}, true
	}
	slog.Debug("OrdersModule.answerWithModel: return sentinel", "violation", d.Violation, "conversationID", turn.ConversationID)
	switch d.Violation {
	case ReturnOK:
		res, err := m.createReturn(ctx, turn.ConversationID, order.ID, d.Reason, t.msg, mem)
		if err != nil {
			slog.Error("OrdersModule.answerWithModel: create return failed", "error", err)
			return Result{}, false
		}
		return res, true
	case ReturnOrderNotFound:
		return Result{Reply: fmt.Sprintf("I couldn't find order %d. Please double-check the number.", t.orderID), Memory: mem}, true
	}
	// Only a return the user asked for may open the return sub-flow.
	if !t.action && !mem.ReturnPending {
		slog.Warn("OrdersModule.answerWithModel: unrequested return sentinel", "conversationID", turn.ConversationID)
		return Result{Reply: askOrderIntent, Memory: mem}, true
	}
	mem.ReturnPending = true
	if d.Violation == ReturnNoOrderID {
		return Result{Reply: askReturnOrderID, Memory: mem}, true
	}
	return Result{Reply: askReturnReason, Memory: mem}, true
}

func orderSummary(o *models.Order) string {
	tracking := o.TrackingNumber
	if tracking == "" {
		tracking = "N/A"
	}
	return fmt.Sprintf("Order **%d** is **%s**.\nItem: **%s**\nTracking: %s", o.ID, o.Status, itemLine(o.Product), tracking)
}

func itemLine(p *models.Product) string {
	if p == nil || p.Name == "" {
		return "Item details not available"
	}
	return fmt.Sprintf("%s (%s)", p.Name, models.FormatLKR(p.Price))
}

func faqAnswer(faqs []models.FAQEntry) string {
	var b strings.Builder
	b.WriteString("Here's what our policy says:")
	for i, f := range faqs {
		if i == 2 {
			break
		}
		fmt.Fprintf(&b, "\n- %s", f.Answer)
	}
	return b.String()
}

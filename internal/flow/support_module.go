package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/faq"
	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/intent"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

const supportSystemPrompt = `You are the Technical Support Agent for ElectroMart.
Use FAQ context for troubleshooting/warranty.
You cannot open tickets yourself. If a ticket would help, offer one and ask the user to reply yes.

Rules (STRICT):
- Reply fully in ONE message. Never say "please hold", "I'll check", or imply future replies.
- Always mention prices in LKR (Sri Lankan Rupees).
- If the problem is vague, ask ONE short clarifying question with 2-3 example options.`

const ticketSummaryPrompt = `Summarise the customer's technical problem for a support ticket.
Reply with exactly one line: CREATE_TICKET: <short issue>|<details>`

const defaultTicketIssue = "Technical issue"

var (
	ticketTriggers = intent.Set{
		"support ticket", "create ticket", "open ticket", "raise ticket",
		"create a ticket", "open a ticket", "raise a ticket", "log a ticket", "make a ticket",
		"contact support", "talk to support", "agent", "representative",
	}
	newTicketTriggers = intent.Set{"new ticket", "another ticket", "different ticket", "open a new", "create a new"}
	ticketQueries     = intent.Set{
		"ticket number", "ticket id", "reference number", "my ticket",
		"what's the ticket", "whats the ticket", "ticket status", "status of my ticket",
	}
	ticketOffers = intent.Set{"want me to open", "open a support ticket", "create a ticket", "raise a ticket"}
	yesWords     = intent.Set{"yes", "y", "yeah", "yep", "ok", "okay", "sure", "please", "go ahead", "do it"}
	noWords      = intent.Set{"no", "n", "nope", "nah", "no thanks", "no thank you", "not now"}
)

const (
	clarifyQuestion = "What's the exact model and what happens when you try to use it " +
		"(won't turn on, screen issue, battery, overheating, etc.)?"
	clarifyIssue = clarifyQuestion + "\n" +
		"If you want, I can open a support ticket - reply **yes**."
	// askForTicket names a phrase the router sends to support.
	askForTicket = "If you still need help later, just say **support ticket**."
)

// SupportModule handles troubleshooting and support tickets. Tickets are
// only created here in code, when the user asks for one or accepts an offer.
type SupportModule struct {
	catalog     store.CatalogStore
	faq         faq.Searcher
	genaiClient genai.ClientInterface
}

func NewSupportModule(catalog store.CatalogStore, searcher faq.Searcher, genaiClient genai.ClientInterface) *SupportModule {
	return &SupportModule{catalog: catalog, faq: searcher, genaiClient: genaiClient}
}

func (m *SupportModule) Route() models.Route { return models.RouteSupport }

func (m *SupportModule) Handle(ctx context.Context, turn Turn) (Result, error) {
	mem := turn.Memory.Clone()
	mem.ActiveFlow = models.RouteSupport
	msg := strings.TrimSpace(turn.Message)
	lower := strings.ToLower(msg)

	if mem.SupportTicketID > 0 && ticketQueries.Match(lower) {
		return Result{Reply: fmt.Sprintf("Your support ticket number is **#%d**.", mem.SupportTicketID), Memory: mem}, nil
	}

	wantsTicket := ticketTriggers.Match(lower)
	wantsNew := newTicketTriggers.Match(lower)
	confirms := mem.TicketPending && yesWords.Exact(msg)

	if mem.TicketPending && noWords.Exact(msg) {
		mem.TicketPending = false
		return Result{Reply: "Okay, I won't open a ticket. Anything else I can help with?", Memory: mem}, nil
	}

	// Any other reply declines a pending offer. It is offered again only
	// while the user is still describing a technical problem.
	reoffer := true
	if mem.TicketPending && !confirms {
		mem.TicketPending = false
		reoffer = intent.Support.Match(lower) && !otherDomainSignal(lower)
		slog.Debug("SupportModule.Handle: pending ticket offer declined", "conversationID", turn.ConversationID, "reoffer", reoffer)
	}

	if mem.SupportTicketID > 0 {
		if wantsNew {
			slog.Debug("SupportModule.Handle: new ticket requested, releasing existing", "ticketID", mem.SupportTicketID)
			mem.SupportTicketID = 0
		} else if wantsTicket || confirms {
			mem.TicketPending = false
			return Result{Reply: fmt.Sprintf("A support ticket is already open for this issue: **#%d**.", mem.SupportTicketID), Memory: mem}, nil
		}
	}

	if wantsTicket || wantsNew || confirms {
		details := msg
		if confirms && !wantsTicket {
			if prev := previousUserMessage(turn.History); prev != "" {
				details = prev
			}
		}
		return m.openTicket(ctx, turn, details, mem)
	}

	faqs := m.searchFAQ(ctx, msg)
	if m.genaiClient != nil {
		if res, ok := m.troubleshootWithModel(ctx, turn, faqs, mem, reoffer); ok {
			return res, nil
		}
	}

	mem.TicketPending = reoffer
	if len(faqs) > 0 {
		var b strings.Builder
		b.WriteString("Try these steps:")
		for i, f := range faqs {
			if i == 2 {
				break
			}
			fmt.Fprintf(&b, "\n- %s", f.Answer)
		}
		if reoffer {
			b.WriteString("\n\nIf this doesn't help, want me to open a support ticket? (yes/no)")
		} else {
			b.WriteString("\n\n" + askForTicket)
		}
		return Result{Reply: b.String(), Memory: mem}, nil
	}
	return Result{Reply: clarifyReply(reoffer), Memory: mem}, nil
}

// otherDomainSignal reports a sales, orders or marketing keyword.
func otherDomainSignal(lower string) bool {
	return intent.Sales.Match(lower) || intent.Orders.Match(lower) || intent.Marketing.Match(lower)
}

func clarifyReply(offer bool) string {
	if offer {
		return clarifyIssue
	}
	return clarifyQuestion + "\n" + askForTicket
}

// openTicket creates the ticket. With a model configured, the model only
// summarises the issue; its reply cannot prevent or cause the creation.
func (m *SupportModule) openTicket(ctx context.Context, turn Turn, details string, mem models.Memory) (Result, error) {
	issue := defaultTicketIssue
	if m.genaiClient != nil {
		out, err := m.genaiClient.GenerateWithTemperature(ctx, chatMessages(ticketSummaryPrompt, nil, details), supportTemperature)
		if err != nil {
			slog.Warn("SupportModule.openTicket: summary failed, using defaults", "error", err)
		} else if d := CheckTicketSentinel(out, true, details); d.Sentinel {
			issue, details = d.Issue, d.Details
		}
	}

	ticket := models.SupportTicket{Issue: issue, Details: details}
	if id, ok := intent.OrderReference(turn.Message); ok {
		ticket.OrderID = id
	} else if mem.LastOrderID > 0 {
		ticket.OrderID = mem.LastOrderID
	}
	if ticket.OrderID > 0 {
		order, err := m.catalog.GetOrder(ctx, ticket.OrderID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to get order: %w", err)
		}
		if order == nil {
			ticket.OrderID = 0
		} else {
			ticket.ProductID = order.ProductID
			mem.LastOrderID = order.ID
		}
	}

	created, err := m.catalog.CreateSupportTicket(ctx, ticket)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create support ticket: %w", err)
	}
	slog.Info("Support ticket created", "conversationID", turn.ConversationID, "ticketID", created.ID, "orderID", created.OrderID)
	mem.SupportTicketID = created.ID
	mem.TicketPending = false
	mem.LastIssue = created.Issue
	return Result{Reply: fmt.Sprintf("I opened a support ticket for you: **#%d**. Our team will follow up soon.", created.ID), Memory: mem}, nil
}

// troubleshootWithModel asks the model for troubleshooting text. A ticket
// sentinel here was never authorised and is replaced by a clarifying
// question with a ticket offer.
func (m *SupportModule) troubleshootWithModel(ctx context.Context, turn Turn, faqs []models.FAQEntry, mem models.Memory, offer bool) (Result, bool) {
	prompt := fmt.Sprintf("User: %s\nContext: %s\n\nGive troubleshooting steps and ask 1-2 necessary questions.",
		turn.Message,
		contextJSON(map[string]interface{}{
			"faq":                 faqs,
			"ticket_pending":      mem.TicketPending,
			"ticket_declined":     !offer,
			"has_existing_ticket": mem.SupportTicketID > 0,
		}))
	out, err := m.genaiClient.GenerateWithTemperature(ctx, chatMessages(supportSystemPrompt, turn.History, prompt), supportTemperature)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("SupportModule.troubleshootWithModel: model call failed, using deterministic reply", "error", err)
		return Result{}, false
	}
	if d := CheckTicketSentinel(out, false, turn.Message); d.Sentinel {
		slog.Warn("SupportModule: discarded unauthorised ticket sentinel", "conversationID", turn.ConversationID)
		mem.TicketPending = offer
		return Result{Reply: "Got it. " + clarifyReply(offer), Memory: mem}, true
	}
	// An offer in the reply is binding, so a "yes" to it still opens a ticket.
	if ticketOffers.Match(strings.ToLower(out)) {
		mem.TicketPending = true
	}
	return Result{Reply: out, Memory: mem}, true
}

func (m *SupportModule) searchFAQ(ctx context.Context, text string) []models.FAQEntry {
	if m.faq == nil {
		return nil
	}
	faqs, err := m.faq.Search(ctx, text, faqContextSize)
	if err != nil {
		slog.Warn("SupportModule.searchFAQ: search failed", "error", err)
		return nil
	}
	return faqs
}

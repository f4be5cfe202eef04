package flow

import (
	"strings"

	"github.com/BTreeMap/CartPipe/internal/intent"
)

// Sentinel prefixes a model reply may start with to request a side effect.
const (
	ReturnSentinel = "CREATE_RETURN:"
	TicketSentinel = "CREATE_TICKET:"
)

// ReturnViolation names the precondition a CREATE_RETURN reply failed.
type ReturnViolation string

const (
	ReturnOK            ReturnViolation = ""
	ReturnNoSentinel    ReturnViolation = "no_sentinel"
	ReturnNoOrderID     ReturnViolation = "no_order_id"
	ReturnOrderNotFound ReturnViolation = "order_not_found"
	ReturnNoReason      ReturnViolation = "no_reason"
)

// ReturnGuard is what the caller knows independently of the model.
type ReturnGuard struct {
	OrderID       int64
	OrderFound    bool
	UserMessage   string
	ReturnPending bool
}

// ReturnDecision is the verdict on a model reply.
type ReturnDecision struct {
	Sentinel  bool
	Violation ReturnViolation
	Reason    string
}

// Allowed reports whether the return may be created.
func (d ReturnDecision) Allowed() bool { return d.Sentinel && d.Violation == ReturnOK }

// CheckReturnSentinel validates a model reply that may request a return.
// The order must have been found by the caller, the reason in the sentinel
// must qualify as a return reason, and the user must have asked about a
// return, given a reason or be answering a pending return question.
func CheckReturnSentinel(output string, g ReturnGuard) ReturnDecision {
	text := strings.TrimSpace(output)
	if !strings.HasPrefix(text, ReturnSentinel) {
		return ReturnDecision{Violation: ReturnNoSentinel}
	}
	d := ReturnDecision{Sentinel: true, Reason: firstLine(strings.TrimSpace(strings.TrimPrefix(text, ReturnSentinel)))}
	switch {
	case g.OrderID == 0:
		d.Violation = ReturnNoOrderID
	case !g.OrderFound:
		d.Violation = ReturnOrderNotFound
	case d.Reason == "" || !intent.HasReturnReason(d.Reason):
		d.Violation = ReturnNoReason
	case !g.ReturnPending && !intent.HasReturnReason(g.UserMessage) && !intent.ReturnWords.Match(strings.ToLower(g.UserMessage)):
		d.Violation = ReturnNoReason
	}
	return d
}

// TicketDecision is the verdict on a model reply that may request a ticket.
type TicketDecision struct {
	Sentinel bool
	Allowed  bool
	Issue    string
	Details  string
}

// CheckTicketSentinel parses "CREATE_TICKET: <issue>|<details>". The ticket
// is allowed only when the user asked for one or confirmed an offer; the
// model's reply alone never permits it. Empty parts default to "Support
// request" and fallbackDetails.
func CheckTicketSentinel(output string, userAllowed bool, fallbackDetails string) TicketDecision {
	text := strings.TrimSpace(output)
	if !strings.HasPrefix(text, TicketSentinel) {
		return TicketDecision{}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(text, TicketSentinel))
	issue, details, _ := strings.Cut(payload, "|")
	d := TicketDecision{
		Sentinel: true,
		Allowed:  userAllowed,
		Issue:    strings.TrimSpace(issue),
		Details:  strings.TrimSpace(details),
	}
	if d.Issue == "" {
		d.Issue = "Support request"
	}
	if d.Details == "" {
		d.Details = fallbackDetails
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

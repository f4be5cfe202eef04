// Package intent provides the keyword classifier: curated phrase sets matched
// by substring containment, plus regex extractors for order and return ids.
//
// Matching is deliberately literal. There is no stemming and no fuzzy
// matching; every function is pure and safe for concurrent use.
package intent

import "strings"

// Set is a list of lower-case phrases matched by substring containment.
type Set []string

// Match reports whether lower contains any phrase of the set. The caller
// passes text already lower-cased.
func (s Set) Match(lower string) bool {
	for _, k := range s {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Exact reports whether text equals one phrase of the set after normalization.
func (s Set) Exact(text string) bool {
	clean := Normalize(text)
	for _, k := range s {
		if clean == k {
			return true
		}
	}
	return false
}

// Normalize lower-cases text and collapses internal whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

var (
	// Sales covers buying intent, pricing, stock, payment and delivery-to questions.
	Sales = Set{
		"buy", "purchase", "price", "cost", "available", "availability", "in stock", "stock",
		"recommend", "suggest", "compare", "spec", "specs", "features",
		"payment", "pay", "credit", "debit", "card", "bank transfer", "cash on delivery", "cod",
		"delivery to", "deliver to", "deliver", "delivery", "location", "area",
	}

	// Orders covers existing-order flows.
	Orders = Set{
		"track", "tracking", "where is my order", "order status", "shipped", "delivered",
		"return", "refund", "cancel", "exchange",
	}

	// Support covers troubleshooting, warranty and ticket requests.
	Support = Set{
		"not working", "won't", "doesn't", "broken", "issue", "problem", "error",
		"warranty", "repair", "setup", "install", "troubleshoot",
		"support ticket", "open ticket", "create ticket",
	}

	Marketing = Set{"discount", "promo", "deal", "offer", "coupon", "loyalty", "campaign"}

	// Policy marks questions about store rules rather than a specific order.
	Policy = Set{
		"policy", "return policy", "refund policy", "exchange policy",
		"cancellation policy", "terms", "conditions",
	}

	// OrdersTieBreak decides sales-vs-orders conflicts in favour of orders.
	OrdersTieBreak = Set{"return", "refund", "cancel", "exchange", "track", "tracking", "order status"}

	// OrdersContext are loose words that turn an explicit order id into an orders turn.
	OrdersContext = Set{"order", "status", "track"}

	// ReturnWords mention a return without necessarily asking for one.
	ReturnWords = Set{"return", "refund", "cancel", "exchange"}

	// ReturnAction are first-person phrases that ask for a return to be started.
	ReturnAction = Set{
		"i want to return", "want to return", "i'd like to return", "would like to return",
		"need to return", "wanna return", "start a return", "request a return", "make a return",
		"process a return", "i want a refund", "want a refund", "need a refund", "get a refund",
		"want to cancel", "need to cancel", "want to exchange", "need to exchange",
	}

	// ReturnObject are weaker phrases that name what to return; they count as
	// an action only outside informational questions.
	ReturnObject = Set{
		"return my", "return this", "return it", "return the", "return order",
		"refund my", "cancel my", "cancel order", "cancel the", "exchange my", "exchange it", "exchange the",
	}

	// InfoOnly marks informational questions about returns, refunds or delivery.
	InfoOnly = Set{
		"policy", "terms", "conditions", "how do i", "how can i", "how long", "how many days",
		"can i return", "can i get a refund", "can i exchange", "can i cancel", "is it possible",
		"what is", "what's", "whats", "do you accept", "do you offer", "eligible", "eligibility",
		"window", "allowed",
	}

	// TopicSwitch releases a pending return when the user moves on.
	TopicSwitch = Set{
		"deliver", "delivery", "shipping", "shipped", "track", "tracking", "where is",
		"warranty", "repair", "setup", "install", "troubleshoot", "support ticket",
		"open ticket", "create ticket", "discount", "promo", "coupon",
		"never mind", "nevermind", "forget it", "don't want to return", "not returning",
	}

	// ReturnReason holds the only phrases accepted as a return reason, besides "because".
	ReturnReason = Set{
		"defect", "defective", "broken", "crack", "cracked", "damaged", "not working",
		"wrong item", "wrong product", "late", "delay", "changed my mind", "no longer need",
		"faulty", "missing", "incomplete", "problem", "issue",
		"screen", "battery", "overheat", "overheating",
	}

	// ReturnFollowUp refers back to the last return request shown.
	ReturnFollowUp = Set{"tell me about it", "return details", "show details", "details of the return"}
)

// PurchasePhrases start checkout when the whole message equals one of them.
var PurchasePhrases = Set{
	"buy now", "purchase now", "checkout", "place order", "order now", "proceed to buy",
	"proceed to purchase", "how to buy", "how can i buy", "i want to buy now", "want to buy now",
	"i need to buy now", "need to buy now", "i want to purchase now", "want to purchase now",
	"i need to purchase now", "need to purchase now",
}

// Greetings route to the welcoming domain.
var Greetings = Set{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening", "gm", "ga", "ge",
}

// IsPurchasePhrase reports whether the whole message is a checkout trigger.
func IsPurchasePhrase(text string) bool {
	return PurchasePhrases.Exact(text)
}

// IsBuyNow reports whether the message is exactly "buy now", the only phrase
// that starts the checkout sub-flow.
func IsBuyNow(text string) bool {
	return Normalize(text) == "buy now"
}

// IsGreeting reports whether the message is a bare greeting, optionally with trailing "!".
func IsGreeting(text string) bool {
	clean := Normalize(text)
	return Greetings.Exact(clean) || Greetings.Exact(strings.TrimRight(clean, "!"))
}

// HasReturnReason reports whether text carries an acceptable return reason.
func HasReturnReason(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	if strings.Contains(lower, "because") {
		return true
	}
	return ReturnReason.Match(lower)
}

// IsInfoQuestion reports whether the message asks about rules or timelines
// rather than requesting an action.
func IsInfoQuestion(lower string) bool {
	return InfoOnly.Match(lower)
}

// WantsReturnAction separates a request to start a return from a mere
// mention of returns. Policy or "how do I" questions never count unless a
// first-person action phrase is also present.
func WantsReturnAction(lower string) bool {
	if ReturnAction.Match(lower) {
		return true
	}
	if IsInfoQuestion(lower) {
		return false
	}
	if ReturnObject.Match(lower) {
		return true
	}
	if !ReturnWords.Match(lower) {
		return false
	}
	// "return 104, screen cracked" style requests
	_, hasID := OrderReference(lower)
	return hasID || HasReturnReason(lower)
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

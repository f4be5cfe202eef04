package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	orderRefRe      = regexp.MustCompile(`(?i)(?:\border\s*(?:id)?\s*#?\s*|#\s*|\bid\s*)(\d{1,10})\b`)
	bareNumberRe    = regexp.MustCompile(`^\s*#?(\d{1,10})\s*$`)
	returnRequestRe = regexp.MustCompile(`(?i)\b(?:(?:return\s*)?request|rr)\s*#?\s*(\d{1,10})\b`)
	skuRe           = regexp.MustCompile(`(?i)(?:\bsku\b\s*[:#]?\s*)?\b([a-z0-9]+(?:-[a-z0-9]+){2,})\b`)
	phoneStripRe    = regexp.MustCompile(`[^\d+]`)
)

// OrderReference extracts an order id introduced by "order", "order id",
// "id" or "#". A bare number does not count here.
func OrderReference(text string) (int64, bool) {
	m := orderRefRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseID(m[1])
}

// BareNumber reports whether the whole message is a number such as "101".
func BareNumber(text string) (int64, bool) {
	m := bareNumberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseID(m[1])
}

// OrderID extracts an order id from an explicit reference, falling back to a
// message that is only a number.
func OrderID(text string) (int64, bool) {
	if id, ok := OrderReference(text); ok {
		return id, true
	}
	return BareNumber(text)
}

// ReturnRequestID extracts a return request id from "return request 1",
// "request #1" or "rr 1".
func ReturnRequestID(text string) (int64, bool) {
	m := returnRequestRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseID(m[1])
}

// SKU extracts a SKU token: alphanumeric segments joined by at least two
// hyphens, optionally after "sku" or "sku:". The result is upper-cased.
func SKU(text string) (string, bool) {
	m := skuRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// Phone extracts a phone number. Digits and a leading '+' are kept; at least
// 9 digits are required. "+" prefixed numbers keep their '+'.
func Phone(text string) (string, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return "", false
	}
	cleaned := phoneStripRe.ReplaceAllString(raw, "")
	digits := strings.ReplaceAll(cleaned, "+", "")
	if len(digits) < 9 {
		return "", false
	}
	if strings.HasPrefix(cleaned, "+") {
		return "+" + digits, true
	}
	return digits, true
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

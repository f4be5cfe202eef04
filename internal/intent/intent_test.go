package intent

import "testing"

func TestOrderReference(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"where is order #123", 123, true},
		{"order id 45 status", 45, true},
		{"Order 101", 101, true},
		{"my id 77", 77, true},
		{"#9", 9, true},
		{"101", 0, false},
		{"android 12 update", 0, false},
		{"no numbers here", 0, false},
	}
	for _, tt := range tests {
		got, ok := OrderReference(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("OrderReference(%q): expected (%d, %v), got (%d, %v)", tt.in, tt.want, tt.ok, got, ok)
		}
	}
}

func TestOrderIDFallsBackToBareNumber(t *testing.T) {
	if id, ok := OrderID("  101 "); !ok || id != 101 {
		t.Errorf("expected bare 101, got (%d, %v)", id, ok)
	}
	if _, ok := OrderID("101 please"); ok {
		t.Error("a number inside a sentence is not a bare order id")
	}
}

func TestReturnRequestID(t *testing.T) {
	cases := map[string]int64{
		"tell me about return request 1": 1,
		"request #12":                    12,
		"RR 7":                           7,
		"rr#3 status":                    3,
	}
	for in, want := range cases {
		if got, ok := ReturnRequestID(in); !ok || got != want {
			t.Errorf("ReturnRequestID(%q): expected %d, got (%d, %v)", in, want, got, ok)
		}
	}
	for _, in := range []string{"I want to return 104", "order 5", "return policy"} {
		if got, ok := ReturnRequestID(in); ok {
			t.Errorf("ReturnRequestID(%q): expected no match, got %d", in, got)
		}
	}
}

func TestSKU(t *testing.T) {
	cases := map[string]string{
		"SKU: PHN-APL-15P":          "PHN-APL-15P",
		"sku tv-sam-55q-2024":       "TV-SAM-55Q-2024",
		"I want FRG-LG-260L please": "FRG-LG-260L",
	}
	for in, want := range cases {
		if got, ok := SKU(in); !ok || got != want {
			t.Errorf("SKU(%q): expected %q, got (%q, %v)", in, want, got, ok)
		}
	}
	for _, in := range []string{"iPhone 15 Pro 256GB", "PHN-APL", "wi-fi router"} {
		if got, ok := SKU(in); ok {
			t.Errorf("SKU(%q): expected no SKU, got %q", in, got)
		}
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0771234567", "0771234567", true},
		{"077 123 4567", "0771234567", true},
		{"+94 77 123-4567", "+94771234567", true},
		{"771234567", "771234567", true},
		{"12345", "", false},
		{"call me", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Phone(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Phone(%q): expected (%q, %v), got (%q, %v)", tt.in, tt.want, tt.ok, got, ok)
		}
	}
}

func TestPurchasePhrasesAreExact(t *testing.T) {
	for _, in := range []string{"buy now", "  Buy   NOW ", "Checkout", "I want to buy now"} {
		if !IsPurchasePhrase(in) {
			t.Errorf("expected %q to be a purchase phrase", in)
		}
	}
	for _, in := range []string{"I want to buy an iphone", "buy now please", "how to buy a tv"} {
		if IsPurchasePhrase(in) {
			t.Errorf("expected %q not to be a purchase phrase", in)
		}
	}
	if IsBuyNow("checkout") {
		t.Error("only buy now starts the checkout sub-flow")
	}
}

func TestIsGreeting(t *testing.T) {
	for _, in := range []string{"hi", "Hello!", "good   morning", "hey!!"} {
		if !IsGreeting(in) {
			t.Errorf("expected %q to be a greeting", in)
		}
	}
	for _, in := range []string{"hi there", "hello, my tv is broken"} {
		if IsGreeting(in) {
			t.Errorf("expected %q not to be a greeting", in)
		}
	}
}

func TestHasReturnReason(t *testing.T) {
	for _, in := range []string{"it's damaged", "because I don't like it", "Screen is cracked", "wrong item sent"} {
		if !HasReturnReason(in) {
			t.Errorf("expected %q to carry a reason", in)
		}
	}
	for _, in := range []string{"", "104", "I want to return it", "yes"} {
		if HasReturnReason(in) {
			t.Errorf("expected %q not to carry a reason", in)
		}
	}
}

func TestWantsReturnAction(t *testing.T) {
	actions := []string{
		"i want to return order 104 because it's damaged",
		"return my phone",
		"i need a refund",
		"return order 104",
		"return 104 screen cracked",
	}
	for _, in := range actions {
		if !WantsReturnAction(in) {
			t.Errorf("expected %q to be a return action", in)
		}
	}
	info := []string{
		"what is your return policy",
		"how do i return the item",
		"can i return a tv after 10 days",
		"how long does a refund take",
		"where is my order",
	}
	for _, in := range info {
		if WantsReturnAction(in) {
			t.Errorf("expected %q not to be a return action", in)
		}
	}
}

func TestSetMatchIsSubstring(t *testing.T) {
	if !Sales.Match("what's the price of the tv") {
		t.Error("expected sales match")
	}
	if Marketing.Match("what's the price of the tv") {
		t.Error("unexpected marketing match")
	}
	if !Support.Match("my tv won't turn on") {
		t.Error("expected support match")
	}
}

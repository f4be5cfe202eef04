package models

import (
	"strings"
	"testing"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr error
	}{
		{"ok", ChatRequest{ConversationID: "c1", Message: "hi"}, nil},
		{"empty conversation id allowed", ChatRequest{Message: "hi"}, nil},
		{"voice", ChatRequest{Message: "hi", InputType: InputTypeVoice}, nil},
		{"empty message", ChatRequest{ConversationID: "c1", Message: "   "}, ErrEmptyMessage},
		{"long message", ChatRequest{Message: strings.Repeat("a", MaxMessageLength+1)}, ErrMessageTooLong},
		{"long id", ChatRequest{ConversationID: strings.Repeat("x", MaxConversationIDLength+1), Message: "hi"}, ErrConversationIDTooLong},
		{"bad input type", ChatRequest{Message: "hi", InputType: "fax"}, ErrInvalidInputType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Normalize()
			if err := req.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChatRequestNormalizeDefaultsInputType(t *testing.T) {
	req := ChatRequest{ConversationID: " c1 ", Message: " hello "}
	req.Normalize()
	if req.InputType != InputTypeText {
		t.Errorf("expected input type %q, got %q", InputTypeText, req.InputType)
	}
	if req.ConversationID != "c1" || req.Message != "hello" {
		t.Errorf("expected trimmed fields, got %q / %q", req.ConversationID, req.Message)
	}
}

func TestParseRoute(t *testing.T) {
	for _, in := range []string{"sales", " Orders ", "SUPPORT.", "\"purchase\"", "marketing!"} {
		if _, ok := ParseRoute(in); !ok {
			t.Errorf("expected %q to parse", in)
		}
	}
	for _, in := range []string{"", "billing", "sales and orders"} {
		if r, ok := ParseRoute(in); ok {
			t.Errorf("expected %q to be rejected, got %q", in, r)
		}
	}
}

func TestMemoryRoundTripKeepsVersion(t *testing.T) {
	m := NewMemory()
	m.ActiveFlow = RouteOrders
	m.ReturnPending = true
	m.BuyFlow = BuyFlow{Active: true, Step: BuyStepName, ProductSKU: "PHN-APL-15P"}

	data, err := MarshalMemory(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := UnmarshalMemory(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != MemoryVersion || got.ActiveFlow != RouteOrders || !got.ReturnPending {
		t.Errorf("memory not restored: %+v", got)
	}
	if got.BuyFlow.Step != BuyStepName || got.BuyFlow.ProductSKU != "PHN-APL-15P" {
		t.Errorf("buy flow not restored: %+v", got.BuyFlow)
	}
}

func TestUnmarshalMemoryEmptyAndFuture(t *testing.T) {
	m, err := UnmarshalMemory("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ActiveFlow != "" || m.Version != MemoryVersion {
		t.Errorf("expected empty memory, got %+v", m)
	}
	if _, err := UnmarshalMemory(`{"version": 99}`); err == nil {
		t.Error("expected error for newer memory version")
	}
	if _, err := UnmarshalMemory(`{not json`); err == nil {
		t.Error("expected error for malformed memory")
	}
}

func TestMemoryCloneDoesNotAlias(t *testing.T) {
	m := NewMemory()
	m.LastProducts = []Product{{SKU: "A"}}
	c := m.Clone()
	c.LastProducts[0].SKU = "B"
	if m.LastProducts[0].SKU != "A" {
		t.Error("clone shares the product slice with the original")
	}
}

func TestFormatLKR(t *testing.T) {
	cases := map[float64]string{
		0:         "LKR 0",
		999:       "LKR 999",
		1000:      "LKR 1,000",
		289999:    "LKR 289,999",
		1234567.4: "LKR 1,234,567",
	}
	for in, want := range cases {
		if got := FormatLKR(in); got != want {
			t.Errorf("FormatLKR(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestReturnStatusIsOpen(t *testing.T) {
	if !ReturnStatusRequested.IsOpen() || !ReturnStatusApproved.IsOpen() {
		t.Error("requested and approved returns should be open")
	}
	if ReturnStatusRejected.IsOpen() || ReturnStatusCompleted.IsOpen() {
		t.Error("rejected and completed returns should not be open")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success(1); r.Status != string(APIStatusOK) || r.Result != 1 {
		t.Errorf("unexpected success response: %+v", r)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response: %+v", r)
	}
}

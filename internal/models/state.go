// Package models defines the dialogue state record persisted per conversation.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemoryVersion is the schema version written with every Memory record.
const MemoryVersion = 1

// BuyStep is a step of the checkout sub-flow.
type BuyStep string

const (
	BuyStepProduct BuyStep = "product"
	BuyStepName    BuyStep = "name"
	BuyStepPhone   BuyStep = "phone"
)

// BuyFlow is the checkout sub-flow state. The zero value is an inactive flow.
type BuyFlow struct {
	Active      bool    `json:"active"`
	Step        BuyStep `json:"step,omitempty"`
	ProductName string  `json:"product_name,omitempty"`
	ProductSKU  string  `json:"product_sku,omitempty"`
	Name        string  `json:"name,omitempty"`
	Phone       string  `json:"phone,omitempty"`
}

// Memory is the typed dialogue state of one conversation. It is passed by
// value between the router and the domain modules; use Clone before handing
// it to code that may mutate the product slice.
type Memory struct {
	Version int `json:"version"`

	ActiveFlow Route `json:"active_flow,omitempty"`

	// orders
	ReturnPending       bool  `json:"return_pending,omitempty"`
	LastOrderID         int64 `json:"last_order_id,omitempty"`
	LastReturnRequestID int64 `json:"last_return_request_id,omitempty"`

	// support
	TicketPending   bool   `json:"ticket_pending,omitempty"`
	SupportTicketID int64  `json:"support_ticket_id,omitempty"`
	LastIssue       string `json:"last_issue,omitempty"`

	// purchase
	BuyFlow         BuyFlow `json:"buy_flow"`
	LastLeadID      int64   `json:"last_lead_id,omitempty"`
	LastLeadProduct string  `json:"last_lead_product,omitempty"`

	// sales
	LastProducts []Product `json:"last_products,omitempty"`
}

// NewMemory returns an empty memory record at the current schema version.
func NewMemory() Memory {
	return Memory{Version: MemoryVersion}
}

// Clone returns a deep copy of m.
func (m Memory) Clone() Memory {
	out := m
	if m.LastProducts != nil {
		out.LastProducts = make([]Product, len(m.LastProducts))
		copy(out.LastProducts, m.LastProducts)
	}
	return out
}

// MarshalMemory encodes a memory record for storage.
func MarshalMemory(m Memory) (string, error) {
	if m.Version == 0 {
		m.Version = MemoryVersion
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal memory: %w", err)
	}
	return string(b), nil
}

// UnmarshalMemory decodes a stored memory record. An empty blob yields an
// empty record. Records from a newer schema are rejected.
func UnmarshalMemory(data string) (Memory, error) {
	if data == "" {
		return NewMemory(), nil
	}
	var m Memory
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Memory{}, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	if m.Version > MemoryVersion {
		return Memory{}, fmt.Errorf("unsupported memory version %d", m.Version)
	}
	if m.Version == 0 {
		m.Version = MemoryVersion
	}
	return m, nil
}

// ConversationState is the stored row for one conversation.
type ConversationState struct {
	ConversationID string    `json:"conversation_id"`
	Memory         Memory    `json:"memory"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Product is a sellable catalog item. Prices are in LKR.
type Product struct {
	ID          int64   `json:"id,omitempty" yaml:"id"`
	SKU         string  `json:"sku" yaml:"sku"`
	Name        string  `json:"name" yaml:"name"`
	Category    string  `json:"category" yaml:"category"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Price       float64 `json:"price" yaml:"price"`
	InStock     bool    `json:"in_stock" yaml:"in_stock"`
}

// OrderStatus values used by the seed data. The store accepts any string.
const (
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Order is an existing customer order.
type Order struct {
	ID             int64     `json:"id" yaml:"id"`
	CustomerName   string    `json:"customer_name" yaml:"customer_name"`
	Status         string    `json:"status" yaml:"status"`
	TrackingNumber string    `json:"tracking_number,omitempty" yaml:"tracking_number"`
	TotalAmount    float64   `json:"total_amount" yaml:"total_amount"`
	ProductID      int64     `json:"product_id,omitempty" yaml:"product_id"`
	Product        *Product  `json:"product,omitempty" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Promotion is a marketing campaign.
type Promotion struct {
	ID              int64     `json:"id,omitempty" yaml:"id"`
	Title           string    `json:"title" yaml:"title"`
	Details         string    `json:"details" yaml:"details"`
	DiscountPercent float64   `json:"discount_percent" yaml:"discount_percent"`
	ValidUntil      time.Time `json:"valid_until" yaml:"valid_until"`
}

// SupportTicket is a technical support case, optionally linked to an order.
type SupportTicket struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id,omitempty"`
	ProductID int64     `json:"product_id,omitempty"`
	Issue     string    `json:"issue"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// ReturnStatus is the lifecycle state of a return request.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusCompleted ReturnStatus = "completed"
)

// IsOpen reports whether a return in this status blocks a duplicate request.
func (s ReturnStatus) IsOpen() bool {
	return s == ReturnStatusRequested || s == ReturnStatusApproved
}

// MaxReturnReasonLength bounds the stored reason text.
const MaxReturnReasonLength = 200

// ReturnRequest is a request to return an order.
type ReturnRequest struct {
	ID        int64        `json:"id"`
	OrderID   int64        `json:"order_id"`
	Reason    string       `json:"reason"`
	Notes     string       `json:"notes,omitempty"`
	Status    ReturnStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	Order     *Order       `json:"order,omitempty"`
}

// Lead is a captured purchase intent awaiting a sales callback.
type Lead struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Interest       string    `json:"interest"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// FAQEntry is a question/answer pair used for troubleshooting and policy answers.
type FAQEntry struct {
	ID        int64     `json:"id,omitempty" yaml:"id"`
	Question  string    `json:"question" yaml:"question"`
	Answer    string    `json:"answer" yaml:"answer"`
	Embedding []float64 `json:"-" yaml:"-"`
}

// FormatLKR renders an amount the way the storefront shows prices, e.g. "LKR 289,999".
func FormatLKR(amount float64) string {
	n := int64(amount + 0.5)
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return fmt.Sprintf("LKR -%s", b.String())
	}
	return "LKR " + b.String()
}

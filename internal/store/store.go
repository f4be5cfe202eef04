// Package store provides storage backends for CartPipe.
//
// It holds conversation memory and history, the storefront catalog (products,
// orders, promotions, FAQs) and the records created during a conversation
// (support tickets, return requests, leads). SQLite, PostgreSQL and in-memory
// implementations are provided.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// ErrNotFound is returned by lookups that must resolve to an existing row.
var ErrNotFound = errors.New("not found")

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN  string // database connection string
	Type string // "postgres", "sqlite" or "" for in-memory
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "postgres"
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "sqlite"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key/value DSNs and
// "sqlite" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open builds the store selected by opts. Without a DSN it returns an
// in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.Type {
	case "postgres":
		return NewPostgresStore(opts...)
	case "sqlite":
		return NewSQLiteStore(opts...)
	default:
		return NewInMemoryStore(), nil
	}
}

// Turn is everything one processed message commits.
type Turn struct {
	ConversationID string
	Memory         models.Memory
	UserMessage    models.Message
	Reply          models.Message
}

// ConversationStore persists per-conversation memory and history.
type ConversationStore interface {
	// GetMemory returns the stored memory, or nil if the conversation is new.
	GetMemory(ctx context.Context, conversationID string) (*models.Memory, error)
	// ListMessages returns up to limit most recent messages in chronological order.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// SaveTurn stores memory and both messages of a turn atomically.
	SaveTurn(ctx context.Context, turn Turn) error
	// ClearConversation deletes memory and history for a conversation.
	ClearConversation(ctx context.Context, conversationID string) error
}

// ProductQuery filters catalog products. Empty fields do not filter.
type ProductQuery struct {
	Category    string // exact category, case-insensitive
	NameLike    string // substring of the product name
	Keyword     string // substring of name, category, description or SKU
	InStockOnly bool
	Limit       int
}

// CatalogStore is the storefront data used by the domain modules.
type CatalogStore interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetProductBySKU(ctx context.Context, sku string) (*models.Product, error)
	SearchProducts(ctx context.Context, q ProductQuery) ([]models.Product, error)
	ListProductCategories(ctx context.Context) ([]string, error)
	ListPromotions(ctx context.Context, limit int) ([]models.Promotion, error)
	ListFAQs(ctx context.Context) ([]models.FAQEntry, error)
	SaveFAQEmbedding(ctx context.Context, id int64, embedding []float64) error

	CreateSupportTicket(ctx context.Context, t models.SupportTicket) (models.SupportTicket, error)
	// CreateReturnRequest returns the open request for the order if one
	// exists (alreadyExists=true) instead of inserting a duplicate. It
	// returns ErrNotFound when the order does not exist.
	CreateReturnRequest(ctx context.Context, orderID int64, reason, notes string) (rr models.ReturnRequest, alreadyExists bool, err error)
	GetReturnRequest(ctx context.Context, id int64) (*models.ReturnRequest, error)
	CreateLead(ctx context.Context, lead models.Lead) (models.Lead, error)
}

// CatalogSeeder loads catalog rows, replacing rows with the same key.
type CatalogSeeder interface {
	UpsertProduct(ctx context.Context, p models.Product) (models.Product, error)
	UpsertOrder(ctx context.Context, o models.Order) error
	UpsertPromotion(ctx context.Context, p models.Promotion) error
	UpsertFAQ(ctx context.Context, f models.FAQEntry) error
}

// Store is the full storage surface used by the service.
type Store interface {
	ConversationStore
	CatalogStore
	CatalogSeeder
	OutboxRepo
	Close() error
}

// truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

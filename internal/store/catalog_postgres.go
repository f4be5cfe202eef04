package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders o LEFT JOIN products p ON p.id = o.product_id WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetOrder not found", "orderID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOrder failed", "error", err, "orderID", id)
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &o, nil
}

func (s *PostgresStore) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE LOWER(sku) = LOWER($1)`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProductBySKU failed", "error", err, "sku", sku)
		return nil, fmt.Errorf("failed to load product %s: %w", sku, err)
	}
	return &p, nil
}

func (s *PostgresStore) SearchProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.InStockOnly {
		where = append(where, `in_stock`)
	}
	if q.Category != "" {
		where = append(where, `LOWER(category) = `+arg(strings.ToLower(q.Category)))
	}
	if q.NameLike != "" {
		where = append(where, `LOWER(name) LIKE `+arg(likePattern(q.NameLike)))
	}
	if q.Keyword != "" {
		kw := arg(likePattern(q.Keyword))
		where = append(where, `(LOWER(name) LIKE `+kw+` OR LOWER(category) LIKE `+kw+
			` OR LOWER(COALESCE(description, '')) LIKE `+kw+` OR LOWER(sku) LIKE `+kw+`)`)
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id`
	if q.Limit > 0 {
		query += ` LIMIT ` + arg(q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore SearchProducts failed", "error", err)
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return collectProducts(rows)
}

func (s *PostgresStore) ListProductCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()
	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *PostgresStore) ListPromotions(ctx context.Context, limit int) ([]models.Promotion, error) {
	query := `SELECT id, title, details, discount_percent, valid_until FROM promotions ORDER BY valid_until DESC NULLS LAST, id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListPromotions failed", "error", err)
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return collectPromotions(rows)
}

func (s *PostgresStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer, embedding_json FROM faqs ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListFAQs failed", "error", err)
		return nil, fmt.Errorf("failed to list faqs: %w", err)
	}
	return collectFAQs(rows)
}

func (s *PostgresStore) SaveFAQEmbedding(ctx context.Context, id int64, embedding []float64) error {
	enc, err := encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE faqs SET embedding_json = $1 WHERE id = $2`, enc, id)
	if err != nil {
		return fmt.Errorf("failed to save faq embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSupportTicket(ctx context.Context, t models.SupportTicket) (models.SupportTicket, error) {
	t.Issue = truncate(t.Issue, 200)
	t.CreatedAt = time.Now()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO support_tickets (order_id, product_id, issue, details, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		nilIfZero(t.OrderID), nilIfZero(t.ProductID), t.Issue, nilIfEmpty(t.Details), t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		slog.Error("PostgresStore CreateSupportTicket failed", "error", err)
		return t, fmt.Errorf("failed to create support ticket: %w", err)
	}
	slog.Info("Support ticket created", "ticketID", t.ID, "orderID", t.OrderID)
	return t, nil
}

// CreateReturnRequest locks the order row so concurrent requests for the
// same order see each other's inserts.
func (s *PostgresStore) CreateReturnRequest(ctx context.Context, orderID int64, reason, notes string) (models.ReturnRequest, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ReturnRequest{}, false, err
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReturnRequest{}, false, ErrNotFound
		}
		return models.ReturnRequest{}, false, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}

	latest, err := scanReturnRequest(tx.QueryRowContext(ctx,
		`SELECT id, order_id, reason, notes, status, created_at FROM return_requests WHERE order_id = $1 ORDER BY id DESC LIMIT 1`,
		orderID))
	switch {
	case err == nil && latest.Status.IsOpen():
		return latest, true, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return models.ReturnRequest{}, false, fmt.Errorf("failed to check existing return: %w", err)
	}

	rr := models.ReturnRequest{
		OrderID:   orderID,
		Reason:    truncate(reason, models.MaxReturnReasonLength),
		Notes:     notes,
		Status:    models.ReturnStatusRequested,
		CreatedAt: time.Now(),
	}
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO return_requests (order_id, reason, notes, status, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rr.OrderID, rr.Reason, nilIfEmpty(rr.Notes), string(rr.Status), rr.CreatedAt,
	).Scan(&rr.ID); err != nil {
		slog.Error("PostgresStore CreateReturnRequest failed", "error", err, "orderID", orderID)
		return rr, false, fmt.Errorf("failed to create return request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rr, false, err
	}
	slog.Info("Return request created", "returnID", rr.ID, "orderID", orderID)
	return rr, false, nil
}

func (s *PostgresStore) GetReturnRequest(ctx context.Context, id int64) (*models.ReturnRequest, error) {
	rr, err := scanReturnRequest(s.db.QueryRowContext(ctx,
		`SELECT id, order_id, reason, notes, status, created_at FROM return_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load return request %d: %w", id, err)
	}
	order, err := s.GetOrder(ctx, rr.OrderID)
	if err != nil {
		return nil, err
	}
	rr.Order = order
	return &rr, nil
}

// SetReturnStatus updates a return request's status (back-office and tests).
func (s *PostgresStore) SetReturnStatus(ctx context.Context, id int64, status models.ReturnStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE return_requests SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead models.Lead) (models.Lead, error) {
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Phone = strings.TrimSpace(lead.Phone)
	lead.Interest = strings.TrimSpace(lead.Interest)
	lead.Notes = strings.TrimSpace(lead.Notes)
	lead.CreatedAt = time.Now()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO leads (conversation_id, name, phone, interest, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		nilIfEmpty(lead.ConversationID), lead.Name, lead.Phone, lead.Interest, nilIfEmpty(lead.Notes), lead.CreatedAt,
	).Scan(&lead.ID)
	if err != nil {
		slog.Error("PostgresStore CreateLead failed", "error", err)
		return lead, fmt.Errorf("failed to create lead: %w", err)
	}
	slog.Info("Lead created", "leadID", lead.ID, "interest", lead.Interest)
	return lead, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p models.Product) (models.Product, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO products (sku, name, category, description, price, in_stock) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
		   description = EXCLUDED.description, price = EXCLUDED.price, in_stock = EXCLUDED.in_stock
		 RETURNING id`,
		p.SKU, p.Name, p.Category, nilIfEmpty(p.Description), p.Price, p.InStock,
	).Scan(&p.ID)
	if err != nil {
		return p, fmt.Errorf("failed to upsert product %s: %w", p.SKU, err)
	}
	return p, nil
}

// UpsertOrder keeps explicit seed ids and moves the id sequence past them.
func (s *PostgresStore) UpsertOrder(ctx context.Context, o models.Order) error {
	now := time.Now()
	if o.ID == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO orders (customer_name, status, tracking_number, total_amount, product_id, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.CustomerName, o.Status, nilIfEmpty(o.TrackingNumber), o.TotalAmount, nilIfZero(o.ProductID), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_name, status, tracking_number, total_amount, product_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET customer_name = EXCLUDED.customer_name, status = EXCLUDED.status,
		   tracking_number = EXCLUDED.tracking_number, total_amount = EXCLUDED.total_amount,
		   product_id = EXCLUDED.product_id, updated_at = EXCLUDED.updated_at`,
		o.ID, o.CustomerName, o.Status, nilIfEmpty(o.TrackingNumber), o.TotalAmount, nilIfZero(o.ProductID), now,
	); err != nil {
		return fmt.Errorf("failed to upsert order %d: %w", o.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('orders', 'id'), GREATEST((SELECT MAX(id) FROM orders), 1))`,
	); err != nil {
		return fmt.Errorf("failed to advance order sequence: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPromotion(ctx context.Context, p models.Promotion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions (title, details, discount_percent, valid_until) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (title) DO UPDATE SET details = EXCLUDED.details,
		   discount_percent = EXCLUDED.discount_percent, valid_until = EXCLUDED.valid_until`,
		p.Title, nilIfEmpty(p.Details), p.DiscountPercent, nilIfZeroTime(p.ValidUntil),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert promotion %q: %w", p.Title, err)
	}
	return nil
}

func (s *PostgresStore) UpsertFAQ(ctx context.Context, f models.FAQEntry) error {
	enc, err := encodeEmbedding(f.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO faqs (question, answer, embedding_json) VALUES ($1, $2, $3)
		 ON CONFLICT (question) DO UPDATE SET answer = EXCLUDED.answer,
		   embedding_json = CASE WHEN faqs.answer = EXCLUDED.answer
		     THEN COALESCE(EXCLUDED.embedding_json, faqs.embedding_json) ELSE EXCLUDED.embedding_json END`,
		f.Question, f.Answer, enc,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert faq: %w", err)
	}
	return nil
}

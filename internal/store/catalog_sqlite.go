package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders o LEFT JOIN products p ON p.id = o.product_id WHERE o.id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetOrder not found", "orderID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOrder failed", "error", err, "orderID", id)
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &o, nil
}

func (s *SQLiteStore) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ? COLLATE NOCASE`, sku)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProductBySKU failed", "error", err, "sku", sku)
		return nil, fmt.Errorf("failed to load product %s: %w", sku, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SearchProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	var where []string
	var args []interface{}
	if q.InStockOnly {
		where = append(where, `in_stock = 1`)
	}
	if q.Category != "" {
		where = append(where, `LOWER(category) = ?`)
		args = append(args, strings.ToLower(q.Category))
	}
	if q.NameLike != "" {
		where = append(where, `LOWER(name) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(q.NameLike))
	}
	if q.Keyword != "" {
		where = append(where, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(category) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\' OR LOWER(sku) LIKE ? ESCAPE '\')`)
		kw := likePattern(q.Keyword)
		args = append(args, kw, kw, kw, kw)
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore SearchProducts failed", "error", err)
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return collectProducts(rows)
}

func (s *SQLiteStore) ListProductCategories(ctx context.Context) ([]string, error) {
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

func (s *SQLiteStore) ListPromotions(ctx context.Context, limit int) ([]models.Promotion, error) {
	query := `SELECT id, title, details, discount_percent, valid_until FROM promotions ORDER BY valid_until DESC, id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListPromotions failed", "error", err)
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return collectPromotions(rows)
}

func (s *SQLiteStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer, embedding_json FROM faqs ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListFAQs failed", "error", err)
		return nil, fmt.Errorf("failed to list faqs: %w", err)
	}
	return collectFAQs(rows)
}

func (s *SQLiteStore) SaveFAQEmbedding(ctx context.Context, id int64, embedding []float64) error {
	enc, err := encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE faqs SET embedding_json = ? WHERE id = ?`, enc, id)
	if err != nil {
		return fmt.Errorf("failed to save faq embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateSupportTicket(ctx context.Context, t models.SupportTicket) (models.SupportTicket, error) {
	t.Issue = truncate(t.Issue, 200)
	t.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO support_tickets (order_id, product_id, issue, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		nilIfZero(t.OrderID), nilIfZero(t.ProductID), t.Issue, nilIfEmpty(t.Details), t.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateSupportTicket failed", "error", err)
		return t, fmt.Errorf("failed to create support ticket: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	slog.Info("Support ticket created", "ticketID", t.ID, "orderID", t.OrderID)
	return t, nil
}

func (s *SQLiteStore) CreateReturnRequest(ctx context.Context, orderID int64, reason, notes string) (models.ReturnRequest, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ReturnRequest{}, false, err
	}
	defer tx.Rollback()

	var exists int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = ?`, orderID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReturnRequest{}, false, ErrNotFound
		}
		return models.ReturnRequest{}, false, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}

	latest, err := scanReturnRequest(tx.QueryRowContext(ctx,
		`SELECT id, order_id, reason, notes, status, created_at FROM return_requests WHERE order_id = ? ORDER BY id DESC LIMIT 1`,
		orderID))
	switch {
	case err == nil && latest.Status.IsOpen():
		slog.Debug("SQLiteStore CreateReturnRequest found open request", "orderID", orderID, "returnID", latest.ID)
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
	res, err := tx.ExecContext(ctx,
		`INSERT INTO return_requests (order_id, reason, notes, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		rr.OrderID, rr.Reason, nilIfEmpty(rr.Notes), string(rr.Status), rr.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateReturnRequest failed", "error", err, "orderID", orderID)
		return rr, false, fmt.Errorf("failed to create return request: %w", err)
	}
	rr.ID, _ = res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return rr, false, err
	}
	slog.Info("Return request created", "returnID", rr.ID, "orderID", orderID)
	return rr, false, nil
}

func (s *SQLiteStore) GetReturnRequest(ctx context.Context, id int64) (*models.ReturnRequest, error) {
	rr, err := scanReturnRequest(s.db.QueryRowContext(ctx,
		`SELECT id, order_id, reason, notes, status, created_at FROM return_requests WHERE id = ?`, id))
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
func (s *SQLiteStore) SetReturnStatus(ctx context.Context, id int64, status models.ReturnStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE return_requests SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead models.Lead) (models.Lead, error) {
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Phone = strings.TrimSpace(lead.Phone)
	lead.Interest = strings.TrimSpace(lead.Interest)
	lead.Notes = strings.TrimSpace(lead.Notes)
	lead.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (conversation_id, name, phone, interest, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nilIfEmpty(lead.ConversationID), lead.Name, lead.Phone, lead.Interest, nilIfEmpty(lead.Notes), lead.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateLead failed", "error", err)
		return lead, fmt.Errorf("failed to create lead: %w", err)
	}
	lead.ID, _ = res.LastInsertId()
	slog.Info("Lead created", "leadID", lead.ID, "interest", lead.Interest)
	return lead, nil
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p models.Product) (models.Product, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO products (sku, name, category, description, price, in_stock) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sku) DO UPDATE SET name = excluded.name, category = excluded.category,
		   description = excluded.description, price = excluded.price, in_stock = excluded.in_stock
		 RETURNING id`,
		p.SKU, p.Name, p.Category, nilIfEmpty(p.Description), p.Price, p.InStock,
	).Scan(&p.ID)
	if err != nil {
		return p, fmt.Errorf("failed to upsert product %s: %w", p.SKU, err)
	}
	return p, nil
}

func (s *SQLiteStore) UpsertOrder(ctx context.Context, o models.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_name, status, tracking_number, total_amount, product_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET customer_name = excluded.customer_name, status = excluded.status,
		   tracking_number = excluded.tracking_number, total_amount = excluded.total_amount,
		   product_id = excluded.product_id, updated_at = excluded.updated_at`,
		nilIfZero(o.ID), o.CustomerName, o.Status, nilIfEmpty(o.TrackingNumber), o.TotalAmount, nilIfZero(o.ProductID), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %d: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertPromotion(ctx context.Context, p models.Promotion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions (title, details, discount_percent, valid_until) VALUES (?, ?, ?, ?)
		 ON CONFLICT(title) DO UPDATE SET details = excluded.details,
		   discount_percent = excluded.discount_percent, valid_until = excluded.valid_until`,
		p.Title, nilIfEmpty(p.Details), p.DiscountPercent, nilIfZeroTime(p.ValidUntil),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert promotion %q: %w", p.Title, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertFAQ(ctx context.Context, f models.FAQEntry) error {
	enc, err := encodeEmbedding(f.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO faqs (question, answer, embedding_json) VALUES (?, ?, ?)
		 ON CONFLICT(question) DO UPDATE SET answer = excluded.answer,
		   embedding_json = CASE WHEN faqs.answer = excluded.answer
		     THEN COALESCE(excluded.embedding_json, faqs.embedding_json) ELSE excluded.embedding_json END`,
		f.Question, f.Answer, enc,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert faq: %w", err)
	}
	return nil
}

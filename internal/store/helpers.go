package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// nilIfEmpty maps "" to NULL for nullable columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const outboxColumns = `id, conversation_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

// collectOutboxMessages drains and closes rows.
func collectOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return msgs, nil
}

const productColumns = `id, sku, name, category, description, price, in_stock`

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	var desc sql.NullString
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &desc, &p.Price, &p.InStock); err != nil {
		return p, err
	}
	p.Description = desc.String
	return p, nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product failed: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("product iteration failed: %w", err)
	}
	return out, nil
}

const orderColumns = `o.id, o.customer_name, o.status, o.tracking_number, o.total_amount, o.product_id, o.updated_at,
	p.id, p.sku, p.name, p.category, p.description, p.price, p.in_stock`

// scanOrder reads an order joined LEFT with its product.
func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var tracking sql.NullString
	var productID sql.NullInt64
	var pID sql.NullInt64
	var pSKU, pName, pCategory, pDesc sql.NullString
	var pPrice sql.NullFloat64
	var pInStock sql.NullBool
	if err := row.Scan(
		&o.ID, &o.CustomerName, &o.Status, &tracking, &o.TotalAmount, &productID, &o.UpdatedAt,
		&pID, &pSKU, &pName, &pCategory, &pDesc, &pPrice, &pInStock,
	); err != nil {
		return o, err
	}
	o.TrackingNumber = tracking.String
	o.ProductID = productID.Int64
	if pID.Valid {
		o.Product = &models.Product{
			ID:          pID.Int64,
			SKU:         pSKU.String,
			Name:        pName.String,
			Category:    pCategory.String,
			Description: pDesc.String,
			Price:       pPrice.Float64,
			InStock:     pInStock.Bool,
		}
	}
	return o, nil
}

func collectPromotions(rows *sql.Rows) ([]models.Promotion, error) {
	defer rows.Close()
	var out []models.Promotion
	for rows.Next() {
		var p models.Promotion
		var details sql.NullString
		var discount sql.NullFloat64
		var validUntil sql.NullTime
		if err := rows.Scan(&p.ID, &p.Title, &details, &discount, &validUntil); err != nil {
			return nil, fmt.Errorf("scan promotion failed: %w", err)
		}
		p.Details = details.String
		p.DiscountPercent = discount.Float64
		if validUntil.Valid {
			p.ValidUntil = validUntil.Time
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("promotion iteration failed: %w", err)
	}
	return out, nil
}

func collectFAQs(rows *sql.Rows) ([]models.FAQEntry, error) {
	defer rows.Close()
	var out []models.FAQEntry
	for rows.Next() {
		var f models.FAQEntry
		var embedding sql.NullString
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &embedding); err != nil {
			return nil, fmt.Errorf("scan faq failed: %w", err)
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &f.Embedding); err != nil {
				return nil, fmt.Errorf("decode faq %d embedding failed: %w", f.ID, err)
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("faq iteration failed: %w", err)
	}
	return out, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var route, inputType sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &route, &inputType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Route = models.Route(route.String)
		m.InputType = models.InputType(inputType.String)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message iteration failed: %w", err)
	}
	// rows are read newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanReturnRequest(row rowScanner) (models.ReturnRequest, error) {
	var rr models.ReturnRequest
	var notes sql.NullString
	err := row.Scan(&rr.ID, &rr.OrderID, &rr.Reason, &notes, &rr.Status, &rr.CreatedAt)
	rr.Notes = notes.String
	return rr, err
}

// likePattern wraps s for a case-insensitive LIKE match against a lowered column.
func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func encodeEmbedding(v []float64) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

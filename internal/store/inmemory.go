package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store used for tests and when no DSN is configured.
type InMemoryStore struct {
	mu sync.RWMutex

	memories map[string]models.ConversationState
	messages map[string][]models.Message

	products   map[int64]models.Product
	orders     map[int64]models.Order
	promotions map[int64]models.Promotion
	faqs       map[int64]models.FAQEntry
	tickets    map[int64]models.SupportTicket
	returns    map[int64]models.ReturnRequest
	leads      map[int64]models.Lead
	outbox     map[string]OutboxMessage

	nextID int64
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:   make(map[string]models.ConversationState),
		messages:   make(map[string][]models.Message),
		products:   make(map[int64]models.Product),
		orders:     make(map[int64]models.Order),
		promotions: make(map[int64]models.Promotion),
		faqs:       make(map[int64]models.FAQEntry),
		tickets:    make(map[int64]models.SupportTicket),
		returns:    make(map[int64]models.ReturnRequest),
		leads:      make(map[int64]models.Lead),
		outbox:     make(map[string]OutboxMessage),
	}
}

func (s *InMemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetMemory(ctx context.Context, conversationID string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.memories[conversationID]
	if !ok {
		return nil, nil
	}
	m := st.Memory.Clone()
	return &m, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) SaveTurn(ctx context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	st, ok := s.memories[turn.ConversationID]
	if !ok {
		st = models.ConversationState{ConversationID: turn.ConversationID, CreatedAt: now}
	}
	st.Memory = turn.Memory.Clone()
	st.UpdatedAt = now
	s.memories[turn.ConversationID] = st

	for _, m := range []models.Message{turn.UserMessage, turn.Reply} {
		m.ID = s.newID()
		m.ConversationID = turn.ConversationID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.messages[turn.ConversationID] = append(s.messages[turn.ConversationID], m)
	}
	slog.Debug("InMemoryStore SaveTurn succeeded", "conversationID", turn.ConversationID)
	return nil
}

func (s *InMemoryStore) ClearConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, conversationID)
	delete(s.messages, conversationID)
	return nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	if p, ok := s.products[o.ProductID]; ok {
		o.Product = &p
	}
	return &o, nil
}

func (s *InMemoryStore) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if strings.EqualFold(p.SKU, sku) {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SearchProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.Product
	for _, id := range ids {
		p := s.products[id]
		if q.InStockOnly && !p.InStock {
			continue
		}
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if q.NameLike != "" && !containsFold(p.Name, q.NameLike) {
			continue
		}
		if q.Keyword != "" && !containsFold(p.Name, q.Keyword) && !containsFold(p.Category, q.Keyword) &&
			!containsFold(p.Description, q.Keyword) && !containsFold(p.SKU, q.Keyword) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (s *InMemoryStore) ListProductCategories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var cats []string
	for _, p := range s.products {
		if p.Category != "" && !seen[p.Category] {
			seen[p.Category] = true
			cats = append(cats, p.Category)
		}
	}
	sort.Strings(cats)
	return cats, nil
}

func (s *InMemoryStore) ListPromotions(ctx context.Context, limit int) ([]models.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidUntil.Equal(out[j].ValidUntil) {
			return out[i].ID < out[j].ID
		}
		return out[i].ValidUntil.After(out[j].ValidUntil)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FAQEntry, 0, len(s.faqs))
	for _, f := range s.faqs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SaveFAQEmbedding(ctx context.Context, id int64, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faqs[id]
	if !ok {
		return ErrNotFound
	}
	f.Embedding = append([]float64(nil), embedding...)
	s.faqs[id] = f
	return nil
}

func (s *InMemoryStore) CreateSupportTicket(ctx context.Context, t models.SupportTicket) (models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.newID()
	t.Issue = truncate(t.Issue, 200)
	t.CreatedAt = time.Now()
	s.tickets[t.ID] = t
	return t, nil
}

func (s *InMemoryStore) CreateReturnRequest(ctx context.Context, orderID int64, reason, notes string) (models.ReturnRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return models.ReturnRequest{}, false, ErrNotFound
	}
	var latest *models.ReturnRequest
	for _, rr := range s.returns {
		if rr.OrderID != orderID {
			continue
		}
		if latest == nil || rr.ID > latest.ID {
			rr := rr
			latest = &rr
		}
	}
	if latest != nil && latest.Status.IsOpen() {
		return *latest, true, nil
	}
	rr := models.ReturnRequest{
		ID:        s.newID(),
		OrderID:   orderID,
		Reason:    truncate(reason, models.MaxReturnReasonLength),
		Notes:     notes,
		Status:    models.ReturnStatusRequested,
		CreatedAt: time.Now(),
	}
	s.returns[rr.ID] = rr
	return rr, false, nil
}

func (s *InMemoryStore) GetReturnRequest(ctx context.Context, id int64) (*models.ReturnRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rr, ok := s.returns[id]
	if !ok {
		return nil, nil
	}
	if o, ok := s.orders[rr.OrderID]; ok {
		if p, ok := s.products[o.ProductID]; ok {
			o.Product = &p
		}
		rr.Order = &o
	}
	return &rr, nil
}

// SetReturnStatus changes the status of a return request (back-office and tests).
func (s *InMemoryStore) SetReturnStatus(ctx context.Context, id int64, status models.ReturnStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.returns[id]
	if !ok {
		return ErrNotFound
	}
	rr.Status = status
	s.returns[id] = rr
	return nil
}

func (s *InMemoryStore) CreateLead(ctx context.Context, lead models.Lead) (models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead.ID = s.newID()
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Phone = strings.TrimSpace(lead.Phone)
	lead.Interest = strings.TrimSpace(lead.Interest)
	lead.Notes = strings.TrimSpace(lead.Notes)
	lead.CreatedAt = time.Now()
	s.leads[lead.ID] = lead
	return lead, nil
}

// Leads returns all captured leads (tests).
func (s *InMemoryStore) Leads() []models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tickets returns all support tickets (tests).
func (s *InMemoryStore) Tickets() []models.SupportTicket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SupportTicket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemoryStore) UpsertProduct(ctx context.Context, p models.Product) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.products {
		if strings.EqualFold(existing.SKU, p.SKU) {
			p.ID = id
			s.products[id] = p
			return p, nil
		}
	}
	if p.ID == 0 {
		p.ID = s.newID()
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *InMemoryStore) UpsertOrder(ctx context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.newID()
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	o.Product = nil
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = o
	return nil
}

func (s *InMemoryStore) UpsertPromotion(ctx context.Context, p models.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.promotions {
		if existing.Title == p.Title {
			p.ID = id
			s.promotions[id] = p
			return nil
		}
	}
	p.ID = s.newID()
	s.promotions[p.ID] = p
	return nil
}

func (s *InMemoryStore) UpsertFAQ(ctx context.Context, f models.FAQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.faqs {
		if existing.Question == f.Question {
			f.ID = id
			s.faqs[id] = f
			return nil
		}
	}
	f.ID = s.newID()
	s.faqs[f.ID] = f
	return nil
}

// Outbox

func (s *InMemoryStore) EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := OutboxMessage{
		ID:             "outbox_" + uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		PayloadJSON:    payloadJSON,
		Status:         OutboxStatusQueued,
		DedupeKey:      dedupeKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		locked := now
		due[i].Status = OutboxStatusSending
		due[i].LockedAt = &locked
		due[i].UpdatedAt = now
		s.outbox[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = OutboxStatusSent
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return ErrNotFound
	}
	next := nextAttemptAt
	m.Status = OutboxStatusQueued
	m.Attempts++
	m.LastError = errMsg
	m.NextAttemptAt = &next
	m.LockedAt = nil
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns all outbox rows (tests).
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

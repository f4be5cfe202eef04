// Package notify alerts the sales team about new leads.
//
// Leads are never notified inline. EnqueueLead records an outbox message in
// the same store that holds the lead, and the outbox sender delivers it
// through SendFunc, so a slow or failing provider never blocks a turn.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// Notification is a message for the sales team.
type Notification struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ErrUnknownKind is returned by SendFunc for outbox kinds it does not handle.
var ErrUnknownKind = errors.New("unknown outbox message kind")

// LeadCreated renders the sales alert for a new lead.
func LeadCreated(lead models.Lead) Notification {
	interest := strings.TrimSpace(lead.Interest)
	if interest == "" {
		interest = "Purchase"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Lead ID: %d\n", lead.ID)
	fmt.Fprintf(&b, "Name: %s\n", lead.Name)
	fmt.Fprintf(&b, "Phone: %s\n", lead.Phone)
	fmt.Fprintf(&b, "Interest: %s\n", interest)
	fmt.Fprintf(&b, "Notes: %s\n", lead.Notes)
	return Notification{
		Subject: fmt.Sprintf("New Lead #%d - %s", lead.ID, interest),
		Body:    b.String(),
	}
}

// EnqueueLead records a lead_created outbox message keyed by lead id.
func EnqueueLead(repo store.OutboxRepo, lead models.Lead) (string, error) {
	payload, err := json.Marshal(lead)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lead: %w", err)
	}
	id, err := repo.EnqueueOutboxMessage(lead.ConversationID, store.OutboxKindLeadCreated, string(payload), fmt.Sprintf("lead:%d", lead.ID))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue lead notification: %w", err)
	}
	slog.Debug("notify.EnqueueLead: queued", "leadID", lead.ID, "outboxID", id)
	return id, nil
}

// SendFunc adapts a Notifier to the outbox sender.
func SendFunc(n Notifier) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		switch msg.Kind {
		case store.OutboxKindLeadCreated:
			var lead models.Lead
			if err := json.Unmarshal([]byte(msg.PayloadJSON), &lead); err != nil {
				return fmt.Errorf("invalid lead payload: %w", err)
			}
			return n.Notify(ctx, LeadCreated(lead))
		default:
			return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
		}
	}
}

// LogNotifier writes notifications to the log. It is the fallback when no
// provider is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.Info("Sales notification", "subject", n.Subject, "body", n.Body)
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MockNotifier records notifications for tests.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []Notification
	Err  error
}

func (m *MockNotifier) Notify(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, n)
	return nil
}

// Count returns the number of recorded notifications.
func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

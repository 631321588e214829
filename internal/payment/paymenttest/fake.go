// Package paymenttest provides an in-memory payment processor for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"checkout-service/internal/payment"
)

// Signature is the only signature header the fake accepts
const Signature = "valid-signature"

// Processor is a payment.Processor that keeps intents in memory. Failure
// fields make the matching call fail with that error.
type Processor struct {
	mu sync.Mutex

	Sessions []payment.SessionParams
	Coupons  []payment.CouponParams
	Intents  map[string]*payment.Intent
	Refunds  []payment.Refund
	Confirms []string

	FailRefund  error
	FailConfirm error
	FailSession error

	seq int
}

func New() *Processor {
	return &Processor{Intents: make(map[string]*payment.Intent)}
}

func (p *Processor) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

// SetIntentStatus forces the processor side status of an intent
func (p *Processor) SetIntentStatus(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intent, ok := p.Intents[id]; ok {
		intent.Status = status
	}
}

// RefundCount returns how many refunds were issued
func (p *Processor) RefundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Refunds)
}

// ConfirmCount returns how many confirmations were issued
func (p *Processor) ConfirmCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Confirms)
}

func (p *Processor) CreateCheckoutSession(_ context.Context, params payment.SessionParams) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSession != nil {
		return nil, p.FailSession
	}
	p.Sessions = append(p.Sessions, params)
	id := p.nextID("cs")
	return &payment.Session{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (p *Processor) CreateCoupon(_ context.Context, params payment.CouponParams) (*payment.Coupon, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Coupons = append(p.Coupons, params)
	return &payment.Coupon{ID: p.nextID("coupon")}, nil
}

func (p *Processor) CreatePaymentMethod(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextID("pm"), nil
}

func (p *Processor) CreatePaymentIntent(_ context.Context, params payment.IntentParams) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent := &payment.Intent{
		ID:       p.nextID("pi"),
		Status:   payment.IntentStatusRequiresConfirmation,
		Amount:   params.Amount,
		Currency: params.Currency,
	}
	p.Intents[intent.ID] = intent
	copied := *intent
	return &copied, nil
}

func (p *Processor) RetrievePaymentIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.Intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", payment.ErrProcessorRejected, id)
	}
	copied := *intent
	return &copied, nil
}

func (p *Processor) ConfirmPaymentIntent(_ context.Context, id string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailConfirm != nil {
		return nil, p.FailConfirm
	}
	intent, ok := p.Intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", payment.ErrProcessorRejected, id)
	}
	intent.Status = payment.IntentStatusSucceeded
	p.Confirms = append(p.Confirms, id)
	copied := *intent
	return &copied, nil
}

func (p *Processor) CreateRefund(_ context.Context, intentID string) (*payment.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailRefund != nil {
		return nil, p.FailRefund
	}
	intent, ok := p.Intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", payment.ErrProcessorRejected, intentID)
	}
	refund := payment.Refund{ID: p.nextID("re"), IntentID: intentID, Status: "succeeded", Amount: intent.Amount}
	p.Refunds = append(p.Refunds, refund)
	return &refund, nil
}

// fakeEvent is the body shape ConstructEvent accepts
type fakeEvent struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

// EventPayload builds a webhook body for ConstructEvent
func EventPayload(id, eventType string, orderID int64) []byte {
	body, _ := json.Marshal(fakeEvent{
		ID:       id,
		Type:     eventType,
		Metadata: map[string]string{payment.MetadataOrderID: fmt.Sprintf("%d", orderID)},
	})
	return body
}

func (p *Processor) ConstructEvent(payload []byte, signature string) (*payment.Event, error) {
	if signature != Signature {
		return nil, payment.ErrInvalidSignature
	}
	var e fakeEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}
	if e.Type != payment.EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: %s", payment.ErrUnsupportedEvent, e.Type)
	}
	return &payment.Event{ID: e.ID, Type: e.Type, Metadata: e.Metadata}, nil
}

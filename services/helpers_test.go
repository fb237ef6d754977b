package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"order-payment-service/common/auth"
	"order-payment-service/gateway"
	"order-payment-service/models"
)

type fakeGateway struct {
	mu   sync.Mutex
	n    int
	err  error
	reqs []gateway.InvoiceRequest
}

func (f *fakeGateway) Name() string            { return "fake" }
func (f *fakeGateway) SignatureHeader() string { return "x-callback-token" }
func (f *fakeGateway) VerifyCallback(_ []byte, sig string) bool {
	return sig == "good-token"
}

func (f *fakeGateway) DecodeCallback(payload []byte) (*models.InvoiceCallback, error) {
	var cb models.InvoiceCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, err
	}
	if cb.Status == "IGNORED" {
		return nil, gateway.ErrIgnoredEvent
	}
	return &cb, nil
}

func (f *fakeGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	id := fmt.Sprintf("INV-%d", f.n)
	exp := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	return &gateway.Invoice{ID: id, URL: "https://pay.example/" + id, ExpiresAt: &exp, Status: "PENDING"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, evt models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingPublisher) ofType(eventType string) []models.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OrderEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func customer(id string) *auth.Principal {
	return auth.NewPrincipal(id, id+"@example.com", auth.RoleCustomer, auth.CapCreateOrder, auth.CapReadOwnOrders)
}

func admin() *auth.Principal {
	return auth.NewPrincipal("admin-1", "admin@example.com", auth.RoleAdmin, auth.AllCapabilities...)
}

func kopiRequest() *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		Items:       []models.LineItem{{ProductID: "p1", Name: "Kopi Susu", UnitPrice: 20000, Quantity: 2}},
		TotalAmount: 40000,
	}
}

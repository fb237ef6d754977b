package models

import "time"

// Invoice statuses reported by the payment gateway.
const (
	GatewayStatusPending = "PENDING"
	GatewayStatusPaid    = "PAID"
	GatewayStatusSettled = "SETTLED"
	GatewayStatusExpired = "EXPIRED"
	GatewayStatusFailed  = "FAILED"
)

// PaymentDetails is the payment information attached to an order by gateway callbacks.
type PaymentDetails struct {
	GatewayInvoiceID string     `json:"gatewayInvoiceId" dynamodbav:"gateway_invoice_id"`
	Method           string     `json:"method,omitempty" dynamodbav:"method,omitempty"`
	Channel          string     `json:"channel,omitempty" dynamodbav:"channel,omitempty"`
	Destination      string     `json:"destination,omitempty" dynamodbav:"destination,omitempty"`
	Amount           int64      `json:"amount" dynamodbav:"amount"`
	PaidAt           *time.Time `json:"paidAt,omitempty" dynamodbav:"paid_at,omitempty"`
	Currency         string     `json:"currency,omitempty" dynamodbav:"currency,omitempty"`
	MerchantName     string     `json:"merchantName,omitempty" dynamodbav:"merchant_name,omitempty"`
	PayerEmail       string     `json:"payerEmail,omitempty" dynamodbav:"payer_email,omitempty"`
	Description      string     `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Created          *time.Time `json:"created,omitempty" dynamodbav:"created,omitempty"`
	Updated          *time.Time `json:"updated,omitempty" dynamodbav:"updated,omitempty"`
}

func (p *PaymentDetails) Clone() *PaymentDetails {
	if p == nil {
		return nil
	}
	c := *p
	c.PaidAt = cloneTime(p.PaidAt)
	c.Created = cloneTime(p.Created)
	c.Updated = cloneTime(p.Updated)
	return &c
}

// Equal compares field by field; timestamps compare as instants.
func (p *PaymentDetails) Equal(o *PaymentDetails) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.GatewayInvoiceID == o.GatewayInvoiceID &&
		p.Method == o.Method &&
		p.Channel == o.Channel &&
		p.Destination == o.Destination &&
		p.Amount == o.Amount &&
		p.Currency == o.Currency &&
		p.MerchantName == o.MerchantName &&
		p.PayerEmail == o.PayerEmail &&
		p.Description == o.Description &&
		timeEqual(p.PaidAt, o.PaidAt) &&
		timeEqual(p.Created, o.Created) &&
		timeEqual(p.Updated, o.Updated)
}

// InvoiceCallback is an invoice status notification from the payment gateway.
// Field names follow the Xendit invoice callback body; other gateways are
// decoded into the same shape.
type InvoiceCallback struct {
	ID                 string     `json:"id"`
	ExternalID         string     `json:"external_id"`
	Status             string     `json:"status"`
	Amount             int64      `json:"amount"`
	PaidAmount         int64      `json:"paid_amount"`
	PaidAt             *time.Time `json:"paid_at"`
	PaymentMethod      string     `json:"payment_method"`
	PaymentChannel     string     `json:"payment_channel"`
	PaymentDestination string     `json:"payment_destination"`
	Currency           string     `json:"currency"`
	MerchantName       string     `json:"merchant_name"`
	PayerEmail         string     `json:"payer_email"`
	Description        string     `json:"description"`
	Created            *time.Time `json:"created"`
	Updated            *time.Time `json:"updated"`
}

// PaymentDetails converts the callback into the record stored on the order.
// The paid amount falls back to the invoice amount when the gateway omits it.
func (cb *InvoiceCallback) PaymentDetails() *PaymentDetails {
	amount := cb.PaidAmount
	if amount == 0 {
		amount = cb.Amount
	}
	return &PaymentDetails{
		GatewayInvoiceID: cb.ID,
		Method:           cb.PaymentMethod,
		Channel:          cb.PaymentChannel,
		Destination:      cb.PaymentDestination,
		Amount:           amount,
		PaidAt:           cloneTime(cb.PaidAt),
		Currency:         cb.Currency,
		MerchantName:     cb.MerchantName,
		PayerEmail:       cb.PayerEmail,
		Description:      cb.Description,
		Created:          cloneTime(cb.Created),
		Updated:          cloneTime(cb.Updated),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

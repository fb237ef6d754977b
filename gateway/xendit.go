package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "order-payment-service/common/errors"
	"order-payment-service/models"
)

const (
	DefaultXenditBaseURL = "https://api.xendit.co"

	xenditCallbackHeader = "x-callback-token"
)

// XenditGateway implements PaymentGateway using the Xendit invoice API.
type XenditGateway struct {
	secretKey     string
	callbackToken string
	baseURL       string
	httpClient    *http.Client
}

func NewXenditGateway(secretKey, callbackToken, baseURL string) *XenditGateway {
	if baseURL == "" {
		baseURL = DefaultXenditBaseURL
	}
	return &XenditGateway{
		secretKey:     secretKey,
		callbackToken: callbackToken,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ---- Xendit API request/response structs ----

type xenditInvoiceRequest struct {
	ExternalID         string `json:"external_id"`
	Amount             int64  `json:"amount"`
	PayerEmail         string `json:"payer_email,omitempty"`
	Description        string `json:"description"`
	InvoiceDuration    int64  `json:"invoice_duration,omitempty"`
	Currency           string `json:"currency,omitempty"`
	ReminderTime       int    `json:"reminder_time,omitempty"`
	SuccessRedirectURL string `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string `json:"failure_redirect_url,omitempty"`
}

type xenditInvoiceResponse struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	InvoiceURL string     `json:"invoice_url"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

type xenditErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (x *XenditGateway) Name() string { return "xendit" }

func (x *XenditGateway) SignatureHeader() string { return xenditCallbackHeader }

// CreateInvoice opens a Xendit invoice for the order.
func (x *XenditGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body := xenditInvoiceRequest{
		ExternalID:         req.ExternalID,
		Amount:             req.Amount,
		PayerEmail:         req.PayerEmail,
		Description:        req.Description,
		InvoiceDuration:    int64(req.Duration / time.Second),
		Currency:           req.Currency,
		ReminderTime:       1,
		SuccessRedirectURL: req.SuccessURL,
		FailureRedirectURL: req.FailureURL,
	}

	var resp xenditInvoiceResponse
	if err := x.doRequest(ctx, http.MethodPost, "/v2/invoices", body, &resp); err != nil {
		return nil, err
	}

	return &Invoice{
		ID:        resp.ID,
		URL:       resp.InvoiceURL,
		ExpiresAt: resp.ExpiryDate,
		Status:    resp.Status,
	}, nil
}

// VerifyCallback compares the callback token in constant time. An unset
// token rejects every callback.
func (x *XenditGateway) VerifyCallback(_ []byte, signature string) bool {
	if x.callbackToken == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(x.callbackToken)) == 1
}

func (x *XenditGateway) DecodeCallback(payload []byte) (*models.InvoiceCallback, error) {
	var cb models.InvoiceCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("decode xendit callback: %w", err)
	}
	return &cb, nil
}

// ---- HTTP helper ----

func (x *XenditGateway) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(x.secretKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return apperrors.Gateway(0, "", "payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Gateway(0, "", "payment gateway response unreadable", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var xe xenditErrorResponse
		_ = json.Unmarshal(respBytes, &xe)
		msg := xe.Message
		if msg == "" {
			msg = fmt.Sprintf("xendit API error (status %d)", resp.StatusCode)
		}
		return apperrors.Gateway(resp.StatusCode, xe.ErrorCode, msg, nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return apperrors.Gateway(0, "", "payment gateway response malformed", err)
		}
	}
	return nil
}

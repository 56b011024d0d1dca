package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/ports/adapter"
	"course-subscription-service/internal/infra/metrics"
)

// MonoGateway implements adapter.PaymentGateway against a mono-style
// acquiring API: invoice create/status/cancel plus HMAC-signed webhooks.
type MonoGateway struct {
	baseURL       string
	token         string
	webhookSecret string
	client        *http.Client
}

// NewMonoGateway creates the gateway client. timeout bounds every call; a
// timeout is reported as domain.ErrGatewayUnavailable and leaves local state
// untouched.
func NewMonoGateway(baseURL, token, webhookSecret string, timeout time.Duration) *MonoGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MonoGateway{
		baseURL:       baseURL,
		token:         token,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: timeout},
	}
}

type createInvoiceRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"ccy"`
	Description string `json:"description"`
	RedirectURL string `json:"redirectUrl"`
	WebhookURL  string `json:"webHookUrl"`
	Validity    int64  `json:"validity"` // seconds
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoiceId"`
	PageURL   string `json:"pageUrl"`
}

type invoiceStatusResponse struct {
	InvoiceID    string `json:"invoiceId"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Reference    string `json:"reference"`
	ApprovalCode string `json:"approvalCode"`
	RRN          string `json:"rrn"`
	ErrCode      string `json:"errCode"`
	ErrText      string `json:"errText"`
}

type gatewayError struct {
	ErrCode string `json:"errCode"`
	ErrText string `json:"errText"`
}

func (g *MonoGateway) CreateInvoice(ctx context.Context, amount int64, currency, description, redirectURL, webhookURL string, validFor time.Duration) (*adapter.Invoice, error) {
	if amount <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	if validFor <= 0 {
		validFor = 24 * time.Hour
	}
	body := createInvoiceRequest{
		Amount:      amount,
		Currency:    currency,
		Description: description,
		RedirectURL: redirectURL,
		WebhookURL:  webhookURL,
		Validity:    int64(validFor.Seconds()),
	}

	var resp createInvoiceResponse
	if err := g.do(ctx, http.MethodPost, "/api/merchant/invoice/create", body, &resp); err != nil {
		return nil, err
	}
	if resp.InvoiceID == "" || resp.PageURL == "" {
		return nil, fmt.Errorf("%w: empty invoice in create response", domain.ErrGatewayRejected)
	}
	return &adapter.Invoice{InvoiceID: resp.InvoiceID, CheckoutURL: resp.PageURL}, nil
}

func (g *MonoGateway) InvoiceStatus(ctx context.Context, invoiceID string) (*adapter.InvoiceState, error) {
	if invoiceID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var resp invoiceStatusResponse
	path := "/api/merchant/invoice/status?invoiceId=" + url.QueryEscape(invoiceID)
	if err := g.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &adapter.InvoiceState{
		InvoiceID:    resp.InvoiceID,
		Status:       resp.Status,
		Amount:       resp.Amount,
		Reference:    resp.Reference,
		ApprovalCode: resp.ApprovalCode,
		RRN:          resp.RRN,
		ErrCode:      resp.ErrCode,
		ErrText:      resp.ErrText,
	}, nil
}

func (g *MonoGateway) CancelInvoice(ctx context.Context, invoiceID string) error {
	if invoiceID == "" {
		return domain.ErrInvalidArgument
	}
	body := map[string]string{"invoiceId": invoiceID}
	return g.do(ctx, http.MethodPost, "/api/merchant/invoice/cancel", body, nil)
}

// ParseWebhook decodes a webhook body. The payload shape matches the status
// response, so polls and webhooks feed the same transition path.
func (g *MonoGateway) ParseWebhook(rawBody []byte) (*adapter.InvoiceState, error) {
	var resp invoiceStatusResponse
	if err := json.Unmarshal(rawBody, &resp); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if resp.InvoiceID == "" {
		return nil, fmt.Errorf("webhook payload without invoiceId: %w", domain.ErrInvalidArgument)
	}
	return &adapter.InvoiceState{
		InvoiceID:    resp.InvoiceID,
		Status:       resp.Status,
		Amount:       resp.Amount,
		Reference:    resp.Reference,
		ApprovalCode: resp.ApprovalCode,
		RRN:          resp.RRN,
		ErrCode:      resp.ErrCode,
		ErrText:      resp.ErrText,
	}, nil
}

// do executes one API call. Network and 5xx failures map to
// ErrGatewayUnavailable, 4xx to ErrGatewayRejected.
func (g *MonoGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Token", g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveGatewayCall(method+" "+trimQuery(path), time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var ge gatewayError
		_ = json.Unmarshal(payload, &ge)
		if ge.ErrText != "" {
			return fmt.Errorf("%w: %s (%s)", domain.ErrGatewayRejected, ge.ErrText, ge.ErrCode)
		}
		return fmt.Errorf("%w: status %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w, body: %s", err, string(payload))
	}
	return nil
}

func trimQuery(path string) string {
	if i := bytes.IndexByte([]byte(path), '?'); i >= 0 {
		return path[:i]
	}
	return path
}

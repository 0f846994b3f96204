package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/domain"
)

// Gupshup sends session messages through the Gupshup WhatsApp API.
type Gupshup struct {
	baseURL string
	apiKey  string
	source  string
	appName string
	client  *http.Client
}

type GupshupOption func(*Gupshup)

// WithHTTPClient replaces the default HTTP client, used by tests.
func WithHTTPClient(c *http.Client) GupshupOption {
	return func(g *Gupshup) { g.client = c }
}

func NewGupshup(cfg config.WhatsAppConfig, opts ...GupshupOption) *Gupshup {
	g := &Gupshup{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		source:  cfg.Source,
		appName: cfg.AppName,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type gupshupResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// Send posts a text session message. Gupshup expects a form-encoded
// body with the message itself as a nested JSON blob.
func (g *Gupshup) Send(ctx context.Context, recipientID, text string) (Result, error) {
	payload, err := json.Marshal(map[string]string{"type": "text", "text": text})
	if err != nil {
		return Result{}, err
	}

	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", g.source)
	form.Set("destination", recipientID)
	form.Set("src.name", g.appName)
	form.Set("message", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/wa/api/v1/msg", strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, domain.NewStageError(domain.StageDelivery, domain.FailureDispatch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, domain.NewStageError(domain.StageDelivery, domain.FailureDispatch,
			fmt.Errorf("gupshup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var wire gupshupResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Result{}, domain.NewStageError(domain.StageDelivery, domain.FailureMalformed, err)
	}
	return Result{MessageID: wire.MessageID, Status: wire.Status}, nil
}

// Package aggregator is the REST client for the swap venue: a third-party
// liquidity aggregator that quotes and executes swaps. Every configured
// endpoint speaks the same API; the caller chooses which one per call.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swapkeeper/internal/crypto"
	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Client implements gateway.Venue over HTTP.
type Client struct {
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	intentTTL  time.Duration
	now        func() time.Time
}

// NewClient creates a venue client. signer and hmac may be nil (paper mode
// and unauthenticated venues).
func NewClient(signer *crypto.Signer, hmac *crypto.HMACAuth) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		hmacAuth:   hmac,
		intentTTL:  2 * time.Minute,
		now:        time.Now,
	}
}

// Quote asks endpoint for a quote.
func (c *Client) Quote(ctx context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error) {
	q := url.Values{}
	q.Set("inputAsset", req.InputAsset)
	q.Set("outputAsset", req.OutputAsset)
	q.Set("amount", req.Amount.String())
	if req.MaxSlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(req.MaxSlippageBps))
	}

	body, err := c.do(ctx, endpoint, http.MethodGet, "/quote?"+q.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: quote: %w", err)
	}
	var apiQuote APIQuote
	if err := json.Unmarshal(body, &apiQuote); err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: decode quote: %w", err)
	}
	if apiQuote.QuoteID == "" {
		return domain.Quote{}, fmt.Errorf("aggregator: quote: %w: empty quote id", domain.ErrTransient)
	}
	return apiQuote.ToDomain(body), nil
}

// Swap submits a quoted swap. The idempotency key is sent both in the body
// and signed into the intent, so a resubmission is recognised by the venue.
func (c *Client) Swap(ctx context.Context, endpoint string, sub domain.SwapSubmission) (domain.SwapReceipt, error) {
	reqBody := APISwapRequest{
		Quote:          json.RawMessage(sub.Quote.Raw),
		Wallet:         sub.Wallet,
		IdempotencyKey: sub.IdempotencyToken,
		Deadline:       c.now().Add(c.intentTTL).Unix(),
	}
	if len(reqBody.Quote) == 0 {
		raw, err := json.Marshal(APIQuote{
			QuoteID:     sub.Quote.ID,
			InputAsset:  sub.Quote.InputAsset,
			OutputAsset: sub.Quote.OutputAsset,
			InAmount:    sub.Quote.InAmount,
			OutAmount:   sub.Quote.OutAmount,
			Route:       sub.Quote.Route,
		})
		if err != nil {
			return domain.SwapReceipt{}, fmt.Errorf("aggregator: marshal quote: %w", err)
		}
		reqBody.Quote = raw
	}
	if c.signer != nil {
		sig, err := c.signer.SignSwapIntent(crypto.SwapIntent{
			Wallet:         sub.Wallet,
			QuoteID:        sub.Quote.ID,
			IdempotencyKey: sub.IdempotencyToken,
			Deadline:       reqBody.Deadline,
		})
		if err != nil {
			return domain.SwapReceipt{}, fmt.Errorf("aggregator: %w: %v", domain.ErrSigningFailed, err)
		}
		reqBody.Signature = sig
	}

	body, err := c.do(ctx, endpoint, http.MethodPost, "/swap", reqBody)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("aggregator: swap: %w", err)
	}
	var resp APISwapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("aggregator: decode swap: %w", err)
	}
	if resp.TxHash == "" {
		return domain.SwapReceipt{}, fmt.Errorf("aggregator: swap: %w: empty tx hash", domain.ErrTransient)
	}
	return domain.SwapReceipt{TxHash: resp.TxHash, OutAmount: resp.OutAmount}, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body any) ([]byte, error) {
	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(b)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(endpoint, "/")+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hmacAuth != nil {
		signPath := req.URL.Path
		if req.URL.RawQuery != "" {
			signPath += "?" + req.URL.RawQuery
		}
		for k, v := range c.hmacAuth.Headers(method, signPath, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses onto the execution error taxonomy.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", domain.ErrTimeout, statusCode)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return rejection(statusCode, body)
	}
	if statusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	}
	return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueRejected, statusCode, bodyStr)
}

func rejection(statusCode int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return &domain.RejectionError{Code: strconv.Itoa(statusCode), Message: strings.TrimSpace(string(body))}
	}
	switch apiErr.Code {
	case CodeInsufficientBalance:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, apiErr.Message)
	case CodeTokenNotTradable, CodeAssetDelisted:
		return &domain.RejectionError{Code: apiErr.Code, Message: apiErr.Message, Terminal: true}
	default:
		return &domain.RejectionError{Code: apiErr.Code, Message: apiErr.Message}
	}
}

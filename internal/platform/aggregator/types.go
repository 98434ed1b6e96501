package aggregator

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// APIQuote is the /quote response body.
type APIQuote struct {
	QuoteID        string          `json:"quoteId"`
	InputAsset     string          `json:"inputAsset"`
	OutputAsset    string          `json:"outputAsset"`
	InAmount       decimal.Decimal `json:"inAmount"`
	OutAmount      decimal.Decimal `json:"outAmount"`
	PriceImpactPct decimal.Decimal `json:"priceImpactPct"`
	Route          []string        `json:"route"`
}

// ToDomain converts the wire quote, keeping the raw body so it can be echoed
// back unchanged on /swap.
func (q APIQuote) ToDomain(raw []byte) domain.Quote {
	return domain.Quote{
		ID:             q.QuoteID,
		InputAsset:     q.InputAsset,
		OutputAsset:    q.OutputAsset,
		InAmount:       q.InAmount,
		OutAmount:      q.OutAmount,
		PriceImpactPct: q.PriceImpactPct,
		Route:          q.Route,
		Raw:            raw,
	}
}

// APISwapRequest is the /swap request body.
type APISwapRequest struct {
	Quote          json.RawMessage `json:"quote"`
	Wallet         string          `json:"wallet"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Deadline       int64           `json:"deadline"`
	Signature      string          `json:"signature,omitempty"`
}

// APISwapResponse is the /swap response body.
type APISwapResponse struct {
	TxHash    string          `json:"txHash"`
	OutAmount decimal.Decimal `json:"outAmount"`
}

// APIError is the body the venue returns with 4xx responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Rejection codes the venue is known to send.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeSlippageExceeded    = "SLIPPAGE_EXCEEDED"
	CodeQuoteExpired        = "QUOTE_EXPIRED"
	CodeTokenNotTradable    = "TOKEN_NOT_TRADABLE"
	CodeAssetDelisted       = "ASSET_DELISTED"
)

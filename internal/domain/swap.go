package domain

import "github.com/shopspring/decimal"

// QuoteRequest asks the venue how much OutputAsset a given Amount of
// InputAsset buys.
type QuoteRequest struct {
	InputAsset     string
	OutputAsset    string
	Amount         decimal.Decimal
	MaxSlippageBps int
}

// Quote is the venue's answer to a QuoteRequest.
type Quote struct {
	ID             string
	InputAsset     string
	OutputAsset    string
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	PriceImpactPct decimal.Decimal
	Route          []string
	Raw            []byte // opaque venue payload echoed back on submission
}

// SwapSubmission is what the gateway sends to the venue to execute a quote.
type SwapSubmission struct {
	Quote            Quote
	Wallet           string
	IdempotencyToken string
}

// SwapReceipt is the venue's response to a submission.
type SwapReceipt struct {
	TxHash    string
	OutAmount decimal.Decimal
}

// SwapRequest is the gateway-level swap call. IdempotencyToken is supplied by
// the caller (position ID plus attempt counter) and reused across retries.
type SwapRequest struct {
	InputAsset       string
	OutputAsset      string
	Amount           decimal.Decimal
	MaxSlippageBps   int
	IdempotencyToken string
}

// SwapResult is the outcome of a successful swap.
type SwapResult struct {
	TxHash              string
	OutputAmount        decimal.Decimal
	RealizedSlippageBps decimal.Decimal
	Endpoint            string
}

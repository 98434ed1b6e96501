package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/crypto"
	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, "mint-1", r.URL.Query().Get("inputAsset"))
		require.Equal(t, "USDC", r.URL.Query().Get("outputAsset"))
		require.Equal(t, "1.5", r.URL.Query().Get("amount"))
		require.Equal(t, "50", r.URL.Query().Get("slippageBps"))
		require.NotEmpty(t, r.Header.Get(crypto.HeaderSignature))
		_, _ = w.Write([]byte(`{"quoteId":"q1","inAmount":"1.5","outAmount":"3.3","priceImpactPct":"0.01","route":["poolA","poolB"]}`))
	}))
	defer srv.Close()

	c := NewClient(nil, &crypto.HMACAuth{Key: "k", Secret: "s"})
	q, err := c.Quote(context.Background(), srv.URL+"/", domain.QuoteRequest{
		InputAsset:     "mint-1",
		OutputAsset:    "USDC",
		Amount:         decimal.RequireFromString("1.5"),
		MaxSlippageBps: 50,
	})
	require.NoError(t, err)
	require.Equal(t, "q1", q.ID)
	require.True(t, q.OutAmount.Equal(decimal.RequireFromString("3.3")))
	require.Equal(t, []string{"poolA", "poolB"}, q.Route)
	require.NotEmpty(t, q.Raw)
}

func TestSwapSignsIntent(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, "SwapRouter", 1)
	require.NoError(t, err)

	var got APISwapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/swap", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"txHash":"0xabc","outAmount":"3.29"}`))
	}))
	defer srv.Close()

	c := NewClient(signer, nil)
	rcp, err := c.Swap(context.Background(), srv.URL, domain.SwapSubmission{
		Quote:            domain.Quote{ID: "q1", Raw: []byte(`{"quoteId":"q1"}`)},
		Wallet:           signer.Address().Hex(),
		IdempotencyToken: "pos-1-1",
	})
	require.NoError(t, err)
	require.Equal(t, "0xabc", rcp.TxHash)
	require.True(t, rcp.OutAmount.Equal(decimal.RequireFromString("3.29")))

	require.Equal(t, "pos-1-1", got.IdempotencyKey)
	require.JSONEq(t, `{"quoteId":"q1"}`, string(got.Quote))
	addr, err := signer.RecoverAddress(crypto.SwapIntent{
		Wallet:         got.Wallet,
		QuoteID:        "q1",
		IdempotencyKey: got.IdempotencyKey,
		Deadline:       got.Deadline,
	}, got.Signature)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), addr)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     domain.ErrorKind
		terminal bool
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", domain.ErrorKindRateLimited, false},
		{"unauthorized", http.StatusUnauthorized, "", domain.ErrorKindTransient, false},
		{"gateway timeout", http.StatusGatewayTimeout, "", domain.ErrorKindTimeout, false},
		{"server error", http.StatusBadGateway, "", domain.ErrorKindTransient, false},
		{"insufficient balance", http.StatusBadRequest, `{"code":"INSUFFICIENT_BALANCE","message":"need more"}`, domain.ErrorKindInsufficientBalance, false},
		{"slippage", http.StatusUnprocessableEntity, `{"code":"SLIPPAGE_EXCEEDED","message":"moved"}`, domain.ErrorKindVenueRejected, false},
		{"delisted", http.StatusBadRequest, `{"code":"ASSET_DELISTED","message":"gone"}`, domain.ErrorKindVenueRejected, true},
		{"unstructured 400", http.StatusBadRequest, "bad", domain.ErrorKindVenueRejected, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(nil, nil).Quote(context.Background(), srv.URL, domain.QuoteRequest{
				InputAsset: "a", OutputAsset: "b", Amount: decimal.NewFromInt(1),
			})
			require.Error(t, err)
			require.Equal(t, tc.kind, domain.KindOf(err))
			require.Equal(t, tc.terminal, domain.IsTerminal(err))
		})
	}
}

func TestUnreachableEndpointIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(nil, nil).Quote(context.Background(), addr, domain.QuoteRequest{
		InputAsset: "a", OutputAsset: "b", Amount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	require.True(t, domain.KindOf(err).Retryable())
}

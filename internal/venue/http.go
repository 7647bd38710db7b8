package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/nexadex/swapflow/pkg/errors"
)

// HTTPAdapter talks JSON-over-HTTP to a venue aggregator endpoint. One
// instance serves one venue tag; the aggregator multiplexes by path.
type HTTPAdapter struct {
	name       string
	baseURL    string
	signingKey string
	client     *http.Client
}

// NewHTTPAdapter creates a live adapter for the named venue. The signing
// key authorizes swap submission; quoting is unauthenticated.
func NewHTTPAdapter(name, baseURL, signingKey string) *HTTPAdapter {
	return &HTTPAdapter{
		name:       name,
		baseURL:    baseURL,
		signingKey: signingKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

type quoteResponse struct {
	Price  string `json:"price"`
	Fee    string `json:"fee"`
	PoolID string `json:"poolId"`
}

type swapRequest struct {
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     int64  `json:"amountIn"`
	MinAmountOut int64  `json:"minAmountOut"`
	PoolID       string `json:"poolId"`
}

type swapResponse struct {
	Signature     string `json:"signature"`
	ExecutedPrice string `json:"executedPrice"`
	AmountOut     int64  `json:"amountOut"`
	FeeAmount     int64  `json:"feeAmount"`
	Error         string `json:"error,omitempty"`
}

// validateMint rejects token identifiers that are not base58 Solana mints.
func validateMint(token string) error {
	raw, err := base58.Decode(token)
	if err != nil {
		return errors.NewValidation("token %q is not a valid base58 mint", token).WithCause(err)
	}
	if len(raw) != 32 {
		return errors.NewValidation("token %q decodes to %d bytes, want 32", token, len(raw))
	}
	return nil
}

// Quote fetches the venue's current price for the pair.
func (a *HTTPAdapter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	for _, token := range []string{req.TokenIn, req.TokenOut} {
		if err := validateMint(token); err != nil {
			return Quote{}, err
		}
	}

	url := fmt.Sprintf("%s/v1/%s/quote?inputMint=%s&outputMint=%s&amount=%d",
		a.baseURL, a.name, req.TokenIn, req.TokenOut, req.AmountIn)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, errors.NewRouting("building quote request for %s: %s", a.name, err).WithCause(err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Quote{}, errors.NewRouting("quote call to %s failed: %s", a.name, err).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, errors.NewRouting("quote call to %s returned %d", a.name, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, errors.NewRouting("decoding quote from %s: %s", a.name, err).WithCause(err)
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return Quote{}, errors.NewRouting("quote from %s carries bad price %q", a.name, body.Price).WithCause(err)
	}
	fee, err := decimal.NewFromString(body.Fee)
	if err != nil {
		return Quote{}, errors.NewRouting("quote from %s carries bad fee %q", a.name, body.Fee).WithCause(err)
	}
	return NewQuote(a.name, price, fee, req.AmountIn, body.PoolID), nil
}

// Swap submits the swap with the minimum-output floor. The venue enforces
// the floor on-chain; a breach surfaces as a slippage error here.
func (a *HTTPAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	payload, err := json.Marshal(swapRequest{
		TokenIn:      params.TokenIn,
		TokenOut:     params.TokenOut,
		AmountIn:     params.AmountIn,
		MinAmountOut: params.MinAmountOut,
		PoolID:       params.PoolID,
	})
	if err != nil {
		return SwapResult{}, errors.NewExecution("encoding swap for %s: %s", a.name, err).WithCause(err)
	}

	url := fmt.Sprintf("%s/v1/%s/swap", a.baseURL, a.name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SwapResult{}, errors.NewExecution("building swap request for %s: %s", a.name, err).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.signingKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return SwapResult{}, errors.NewExecution("swap call to %s failed: %s", a.name, err).WithCause(err)
	}
	defer resp.Body.Close()

	var body swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SwapResult{}, errors.NewExecution("decoding swap result from %s: %s", a.name, err).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK || body.Error != "" {
		return SwapResult{}, errors.NewExecution("swap on %s failed: %s", a.name, body.Error)
	}

	executed, err := decimal.NewFromString(body.ExecutedPrice)
	if err != nil {
		return SwapResult{}, errors.NewExecution("swap result from %s carries bad price %q", a.name, body.ExecutedPrice).WithCause(err)
	}
	return SwapResult{
		TxID:          body.Signature,
		ExecutedPrice: executed,
		AmountIn:      params.AmountIn,
		AmountOut:     body.AmountOut,
		FeeAmount:     body.FeeAmount,
		Timestamp:     time.Now(),
	}, nil
}

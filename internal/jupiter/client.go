package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

const maxResponseBytes = 4 << 20

// Client talks to the swap-aggregation HTTP API: quote, swap-instructions and
// spot price. One instance is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	priceURL     string
	excludeDexes []string
}

func NewClient(baseURL, priceURL string, timeout time.Duration, excludeDexes []string) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		priceURL:     strings.TrimRight(priceURL, "/"),
		excludeDexes: excludeDexes,
	}
}

// Quote fetches a swap quote for amount raw units of inputMint into
// outputMint. The quote is short-lived; callers re-fetch rather than cache.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", outputMint.String())
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))
	if len(c.excludeDexes) > 0 {
		params.Set("excludeDexes", strings.Join(c.excludeDexes, ","))
	}

	raw, err := c.get(ctx, c.baseURL+"/quote?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch quote %s->%s: %w", inputMint, outputMint, err)
	}

	var quote Quote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	quote.Raw = raw
	if quote.OutAmountRaw() == 0 {
		return nil, fmt.Errorf("quote %s->%s returned zero out amount", inputMint, outputMint)
	}
	return &quote, nil
}

// SwapInstructions posts the quote back and returns the instruction set to
// execute it. destinationTokenAccount may be the zero key to let the
// aggregator default to the user's associated account.
func (c *Client) SwapInstructions(ctx context.Context, quote *Quote, userPublicKey, destinationTokenAccount solana.PublicKey) (*InstructionSet, error) {
	if quote == nil || len(quote.Raw) == 0 {
		return nil, fmt.Errorf("swap instructions require a fetched quote")
	}

	body := map[string]any{
		"quoteResponse":    json.RawMessage(quote.Raw),
		"userPublicKey":    userPublicKey.String(),
		"wrapAndUnwrapSol": true,
	}
	if !destinationTokenAccount.IsZero() {
		body["destinationTokenAccount"] = destinationTokenAccount.String()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode swap-instructions request: %w", err)
	}

	raw, err := c.post(ctx, c.baseURL+"/swap-instructions", payload)
	if err != nil {
		return nil, fmt.Errorf("fetch swap instructions: %w", err)
	}

	var set InstructionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode swap-instructions response: %w", err)
	}
	if set.SwapInstruction.ProgramID == "" {
		return nil, fmt.Errorf("swap-instructions response missing swap instruction")
	}
	return &set, nil
}

// SpotPrice returns the USD price for one token mint.
func (c *Client) SpotPrice(ctx context.Context, mint solana.PublicKey) (float64, error) {
	raw, err := c.get(ctx, c.priceURL+"?ids="+mint.String())
	if err != nil {
		return 0, fmt.Errorf("fetch spot price for %s: %w", mint, err)
	}

	var payload map[string]struct {
		UsdPrice float64 `json:"usdPrice"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}

	entry, ok := payload[mint.String()]
	if !ok || entry.UsdPrice <= 0 {
		return 0, fmt.Errorf("no usable price for mint %s", mint)
	}
	return entry.UsdPrice, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

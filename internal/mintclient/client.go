// Package mintclient is the HTTP client for the issuing mint's REST
// API: keyset discovery, swaps, minting, melting, and restore.
package mintclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// Client talks to one mint. Protocol errors come back as *Error;
// everything else (network, decoding) is wrapped opaquely. The client
// never retries: retry policy belongs to callers.
type Client struct {
	baseURL string
	http    *http.Client
}

// Error is a protocol-level error reported by the mint.
type Error struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mint error %d: %s", e.Code, e.Detail)
}

// New creates a client for the mint at baseURL.
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, 30*time.Second)
}

// NewWithTimeout creates a client with a custom HTTP timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the mint base URL this client targets.
func (c *Client) URL() string {
	return c.baseURL
}

// do performs one request. A non-2xx response with a protocol error
// body becomes *Error.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Mint.Debug().Str("method", method).Str("path", path).Msg("mint request")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var mintErr Error
		if json.Unmarshal(data, &mintErr) == nil && mintErr.Detail != "" {
			return &mintErr
		}
		return fmt.Errorf("mint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Keysets lists every keyset the mint knows, active or not.
func (c *Client) Keysets(ctx context.Context) ([]cashu.Keyset, error) {
	var resp keysetsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keysets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keysets, nil
}

// Keys fetches the public keys of one keyset.
func (c *Client) Keys(ctx context.Context, keysetID string) (cashu.KeysetKeys, error) {
	var resp keysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys/"+keysetID, nil, &resp); err != nil {
		return nil, err
	}
	for _, ks := range resp.Keysets {
		if ks.ID == keysetID {
			return parseKeys(ks.Keys)
		}
	}
	return nil, fmt.Errorf("mint did not return keys for keyset %s", keysetID)
}

// Swap exchanges inputs for signatures over the given outputs.
func (c *Client) Swap(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	var resp swapResponse
	err := c.do(ctx, http.MethodPost, "/v1/swap", swapRequest{Inputs: inputs, Outputs: outputs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Signatures, nil
}

// MintQuote requests a quote for minting new ecash.
func (c *Client) MintQuote(ctx context.Context, amount uint64, unit string) (MintQuote, error) {
	var quote MintQuote
	err := c.do(ctx, http.MethodPost, "/v1/mint/quote/bolt11", mintQuoteRequest{Amount: amount, Unit: unit}, &quote)
	return quote, err
}

// Mint redeems a paid quote for signatures over the given outputs.
func (c *Client) Mint(ctx context.Context, quoteID string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	var resp mintResponse
	err := c.do(ctx, http.MethodPost, "/v1/mint/bolt11", mintRequest{Quote: quoteID, Outputs: outputs}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Signatures, nil
}

// MeltQuote requests a quote for paying an external payment request.
func (c *Client) MeltQuote(ctx context.Context, request, unit string) (MeltQuote, error) {
	var quote MeltQuote
	err := c.do(ctx, http.MethodPost, "/v1/melt/quote/bolt11", meltQuoteRequest{Request: request, Unit: unit}, &quote)
	return quote, err
}

// Melt pays a quoted request with the given inputs. Outputs, when
// supplied, are blank change outputs for the unused fee reserve.
func (c *Client) Melt(ctx context.Context, quoteID string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (MeltResult, error) {
	var result MeltResult
	err := c.do(ctx, http.MethodPost, "/v1/melt/bolt11", meltRequest{Quote: quoteID, Inputs: inputs, Outputs: outputs}, &result)
	return result, err
}

// Restore asks the mint to re-sign previously seen outputs, used for
// seed-only recovery of deterministic proofs.
func (c *Client) Restore(ctx context.Context, outputs cashu.BlindedMessages) (RestoreResult, error) {
	var result RestoreResult
	err := c.do(ctx, http.MethodPost, "/v1/restore", restoreRequest{Outputs: outputs}, &result)
	return result, err
}

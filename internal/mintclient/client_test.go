package mintclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

func TestKeysets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keysets" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"keysets": []map[string]any{
				{"id": "00ad268c4d1f5826", "unit": "sat", "active": true, "input_fee_ppk": 100},
				{"id": "00bb12cd34ef5678", "unit": "sat", "active": false, "input_fee_ppk": 0},
			},
		})
	}))
	defer srv.Close()

	keysets, err := New(srv.URL).Keysets(context.Background())
	if err != nil {
		t.Fatalf("Keysets: %v", err)
	}
	if len(keysets) != 2 {
		t.Fatalf("keysets = %d, want 2", len(keysets))
	}
	if keysets[0].ID != "00ad268c4d1f5826" || !keysets[0].Active || keysets[0].InputFeePPK != 100 {
		t.Errorf("keyset = %+v", keysets[0])
	}
}

func TestKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keys/00ad268c4d1f5826" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"keysets": []map[string]any{
				{
					"id":   "00ad268c4d1f5826",
					"unit": "sat",
					"keys": map[string]string{
						"1": "02aa01",
						"2": "02aa02",
					},
				},
			},
		})
	}))
	defer srv.Close()

	keys, err := New(srv.URL).Keys(context.Background(), "00ad268c4d1f5826")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if keys[1] != "02aa01" || keys[2] != "02aa02" {
		t.Errorf("keys = %v", keys)
	}
}

func TestKeysBadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"keysets": []map[string]any{
				{"id": "00aa", "keys": map[string]string{"notanumber": "02bb"}},
			},
		})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Keys(context.Background(), "00aa"); err == nil {
		t.Error("accepted a non-numeric amount key")
	}
}

func TestSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/swap" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Inputs  cashu.Proofs          `json:"inputs"`
			Outputs cashu.BlindedMessages `json:"outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Inputs) != 1 || req.Inputs[0].Amount != 8 {
			t.Errorf("inputs = %v", req.Inputs)
		}
		sigs := make([]map[string]any, len(req.Outputs))
		for i, o := range req.Outputs {
			sigs[i] = map[string]any{"amount": o.Amount, "id": o.ID, "C_": "02cc"}
		}
		json.NewEncoder(w).Encode(map[string]any{"signatures": sigs})
	}))
	defer srv.Close()

	inputs := cashu.Proofs{{Amount: 8, ID: "00aa", Secret: "s", C: "02aa"}}
	outputs := cashu.BlindedMessages{
		{Amount: 2, ID: "00aa", B: "02b1"},
		{Amount: 4, ID: "00aa", B: "02b2"},
	}
	sigs, err := New(srv.URL).Swap(context.Background(), inputs, outputs)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(sigs) != 2 || sigs[0].Amount != 2 || sigs[1].Amount != 4 {
		t.Errorf("signatures = %v", sigs)
	}
}

func TestMintQuoteAndMint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/mint/quote/bolt11":
			var req struct {
				Amount uint64 `json:"amount"`
				Unit   string `json:"unit"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.Amount != 21 || req.Unit != "sat" {
				t.Errorf("quote request = %+v", req)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"quote": "q1", "request": "lnbc21...", "state": "UNPAID",
			})
		case "/v1/mint/bolt11":
			var req struct {
				Quote string `json:"quote"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.Quote != "q1" {
				t.Errorf("mint quote = %q", req.Quote)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"signatures": []map[string]any{{"amount": 21, "id": "00aa", "C_": "02cc"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	quote, err := c.MintQuote(context.Background(), 21, "sat")
	if err != nil {
		t.Fatalf("MintQuote: %v", err)
	}
	if quote.Quote != "q1" || quote.Request != "lnbc21..." {
		t.Errorf("quote = %+v", quote)
	}

	sigs, err := c.Mint(context.Background(), quote.Quote, cashu.BlindedMessages{{Amount: 21, ID: "00aa", B: "02bb"}})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Amount != 21 {
		t.Errorf("signatures = %v", sigs)
	}
}

func TestMelt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/melt/quote/bolt11":
			json.NewEncoder(w).Encode(map[string]any{
				"quote": "m1", "amount": 50, "fee_reserve": 2, "state": MeltStateUnpaid,
			})
		case "/v1/melt/bolt11":
			json.NewEncoder(w).Encode(map[string]any{
				"state": MeltStatePaid, "payment_preimage": "abcd",
				"change": []map[string]any{{"amount": 1, "id": "00aa", "C_": "02cc"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	quote, err := c.MeltQuote(context.Background(), "lnbc50...", "sat")
	if err != nil {
		t.Fatalf("MeltQuote: %v", err)
	}
	if quote.Quote != "m1" || quote.Amount != 50 || quote.FeeReserve != 2 {
		t.Errorf("quote = %+v", quote)
	}

	result, err := c.Melt(context.Background(), quote.Quote, cashu.Proofs{{Amount: 64}}, nil)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if result.State != MeltStatePaid || result.Preimage != "abcd" || len(result.Change) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"code": 11001, "detail": "token already spent"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Swap(context.Background(), nil, nil)
	var mintErr *Error
	if !errors.As(err, &mintErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if mintErr.Code != 11001 || mintErr.Detail != "token already spent" {
		t.Errorf("mint error = %+v", mintErr)
	}
}

func TestOpaqueHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Keysets(context.Background())
	if err == nil {
		t.Fatal("no error for a 502")
	}
	var mintErr *Error
	if errors.As(err, &mintErr) {
		t.Errorf("plain HTTP failure decoded as protocol error: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(srv.URL).Keysets(ctx); err == nil {
		t.Error("request survived a canceled context")
	}
}

func TestBaseURLTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keysets" {
			t.Errorf("path = %s, want /v1/keysets", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"keysets": []any{}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL + "/").Keysets(context.Background()); err != nil {
		t.Fatalf("Keysets: %v", err)
	}
}

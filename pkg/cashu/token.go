package cashu

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Token is a serializable bundle of proofs tied to one mint.
type Token struct {
	Mint   string
	Proofs Proofs
	Unit   string
	Memo   string
}

const (
	tokenPrefix   = "cashu"
	tokenV3Marker = 'A'
)

// tokenV3 is the V3 JSON envelope: a list of per-mint proof groups
// plus optional unit and memo.
type tokenV3 struct {
	Token []tokenV3Entry `json:"token"`
	Unit  string         `json:"unit,omitempty"`
	Memo  string         `json:"memo,omitempty"`
}

type tokenV3Entry struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

// Serialize encodes the token in the V3 text format:
// "cashuA" followed by base64url(JSON).
func (t Token) Serialize() (string, error) {
	if len(t.Proofs) == 0 {
		return "", fmt.Errorf("token has no proofs")
	}
	v3 := tokenV3{
		Token: []tokenV3Entry{{Mint: t.Mint, Proofs: t.Proofs}},
		Unit:  t.Unit,
		Memo:  t.Memo,
	}
	raw, err := json.Marshal(v3)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	return tokenPrefix + string(tokenV3Marker) + base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseToken decodes a V3 token string. Padding in the base64 body is
// tolerated since some encoders emit it.
func ParseToken(s string) (Token, error) {
	if !strings.HasPrefix(s, tokenPrefix) || len(s) <= len(tokenPrefix) {
		return Token{}, fmt.Errorf("not a cashu token")
	}
	body := s[len(tokenPrefix):]
	if body[0] != tokenV3Marker {
		return Token{}, fmt.Errorf("unsupported token version %q", body[0])
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body[1:], "="))
	if err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	var v3 tokenV3
	if err := json.Unmarshal(raw, &v3); err != nil {
		return Token{}, fmt.Errorf("parse token: %w", err)
	}
	if len(v3.Token) == 0 || len(v3.Token[0].Proofs) == 0 {
		return Token{}, fmt.Errorf("token has no proofs")
	}
	t := Token{
		Mint: v3.Token[0].Mint,
		Unit: v3.Unit,
		Memo: v3.Memo,
	}
	// Multi-entry tokens for the same mint are flattened; entries for
	// other mints are rejected (cross-mint proofs are not fungible).
	for _, e := range v3.Token {
		if e.Mint != t.Mint {
			return Token{}, fmt.Errorf("token mixes mints %q and %q", t.Mint, e.Mint)
		}
		t.Proofs = append(t.Proofs, e.Proofs...)
	}
	return t, nil
}

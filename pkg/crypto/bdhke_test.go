package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Published hash-to-curve vectors for the
// Secp256k1_HashToCurve_Cashu_ domain.
func TestHashToCurveVectors(t *testing.T) {
	cases := []struct {
		message string // hex
		point   string // compressed hex
	}{
		{
			"0000000000000000000000000000000000000000000000000000000000000000",
			"024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725",
		},
		{
			"0000000000000000000000000000000000000000000000000000000000000001",
			"022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf",
		},
		{
			"0000000000000000000000000000000000000000000000000000000000000002",
			"026cdbe15362df59cd1dd3c9c11de8aedac2106eca69236ecd9fbe117af897be4f",
		},
	}
	for _, c := range cases {
		msg, err := hex.DecodeString(c.message)
		if err != nil {
			t.Fatalf("decode message: %v", err)
		}
		y, err := HashToCurve(msg)
		if err != nil {
			t.Fatalf("HashToCurve(%s): %v", c.message, err)
		}
		if got := HexPubKey(y); got != c.point {
			t.Errorf("HashToCurve(%s) = %s, want %s", c.message, got, c.point)
		}
	}
}

func TestHashToCurveDeterministic(t *testing.T) {
	a, err := HashToCurve([]byte("some secret"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	b, err := HashToCurve([]byte("some secret"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	if !a.IsEqual(b) {
		t.Error("same message mapped to different points")
	}
	c, err := HashToCurve([]byte("another secret"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	if a.IsEqual(c) {
		t.Error("distinct messages mapped to the same point")
	}
}

// The full issuance round trip: blind, sign with a known mint key,
// unblind, and check the result equals k*Y directly.
func TestBlindUnblindRoundTrip(t *testing.T) {
	secret := []byte("deadbeef")

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("GenerateBlindingFactor: %v", err)
	}
	blinded, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	blindedSig := SignBlindedMessage(blinded, k)

	c := UnblindSignature(blindedSig, r, k.PubKey())

	// C must equal k*Y where Y = HashToCurve(secret).
	y, err := HashToCurve(secret)
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	want := SignBlindedMessage(y, k)
	if !c.IsEqual(want) {
		t.Errorf("unblinded C = %s, want %s", HexPubKey(c), HexPubKey(want))
	}
}

func TestBlindMessageHidesSecret(t *testing.T) {
	secret := []byte("deadbeef")
	y, err := HashToCurve(secret)
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}

	r1, _ := GenerateBlindingFactor()
	r2, _ := GenerateBlindingFactor()
	b1, err := BlindMessage(secret, r1)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	b2, err := BlindMessage(secret, r2)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	if b1.IsEqual(b2) {
		t.Error("different blinding factors produced the same point")
	}
	if b1.IsEqual(y) || b2.IsEqual(y) {
		t.Error("blinded point equals the bare hash-to-curve point")
	}
}

func TestDLEQGenerateVerify(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	r, _ := GenerateBlindingFactor()
	blinded, err := BlindMessage([]byte("proof secret"), r)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	blindedSig := SignBlindedMessage(blinded, k)

	e, s, err := GenerateDLEQ(k, blinded, blindedSig)
	if err != nil {
		t.Fatalf("GenerateDLEQ: %v", err)
	}
	if !VerifyDLEQ(e, s, k.PubKey(), blinded, blindedSig) {
		t.Fatal("valid proof rejected")
	}

	// Signature from a different key must not verify against k's
	// public key.
	k2, _ := secp256k1.GeneratePrivateKey()
	forgedSig := SignBlindedMessage(blinded, k2)
	if VerifyDLEQ(e, s, k.PubKey(), blinded, forgedSig) {
		t.Error("proof accepted for a signature the key never made")
	}

	// Tampered challenge scalar.
	var bad secp256k1.ModNScalar
	bad.SetInt(1)
	bad.Add(e)
	if VerifyDLEQ(&bad, s, k.PubKey(), blinded, blindedSig) {
		t.Error("proof accepted with a tampered challenge")
	}
}

func TestScalarHexRoundTrip(t *testing.T) {
	var s secp256k1.ModNScalar
	s.SetInt(12345)
	parsed, err := ParseScalar(HexScalar(&s))
	if err != nil {
		t.Fatalf("ParseScalar: %v", err)
	}
	pb, sb := parsed.Bytes(), s.Bytes()
	if pb != sb {
		t.Error("scalar changed across hex round trip")
	}

	if _, err := ParseScalar("zz"); err == nil {
		t.Error("accepted non-hex scalar")
	}
	if _, err := ParseScalar("abcd"); err == nil {
		t.Error("accepted short scalar")
	}
}

func TestParsePubKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePubKey("nothex"); err == nil {
		t.Error("accepted non-hex key")
	}
	if _, err := ParsePubKey("02"); err == nil {
		t.Error("accepted truncated key")
	}
}

// Package crypto implements the blind Diffie-Hellman key exchange
// used for ecash issuance: hash-to-curve, message blinding, signature
// unblinding, and DLEQ verification, all over secp256k1.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hashToCurveDomain is the NUT-00 domain separator for mapping
// secrets onto curve points.
const hashToCurveDomain = "Secp256k1_HashToCurve_Cashu_"

// maxHashToCurveIterations bounds the counter search. The probability
// of exhausting it is negligible (each attempt succeeds with p ≈ 1/2).
const maxHashToCurveIterations = 1 << 16

// HashToCurve maps a secret message to a point Y on secp256k1:
// Y = PublicKey(0x02 || sha256(sha256(domain || message) || counter))
// for the first little-endian uint32 counter yielding a valid point.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	h := sha256.New()
	h.Write([]byte(hashToCurveDomain))
	h.Write(message)
	msgHash := h.Sum(nil)

	candidate := make([]byte, 33)
	candidate[0] = 0x02
	var counterBuf [4]byte
	for counter := uint32(0); counter < maxHashToCurveIterations; counter++ {
		binary.LittleEndian.PutUint32(counterBuf[:], counter)
		h.Reset()
		h.Write(msgHash)
		h.Write(counterBuf[:])
		copy(candidate[1:], h.Sum(nil))
		if pub, err := secp256k1.ParsePubKey(candidate); err == nil {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("hash to curve: no valid point found")
}

// GenerateBlindingFactor returns a fresh random scalar r.
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate blinding factor: %w", err)
	}
	return r, nil
}

// BlindMessage computes the blinded point B_ = Y + r*G, where
// Y = HashToCurve(secret). The mint signs B_ without learning Y.
func BlindMessage(secret []byte, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	y, err := HashToCurve(secret)
	if err != nil {
		return nil, err
	}
	var yj, rj, sum secp256k1.JacobianPoint
	y.AsJacobian(&yj)
	secp256k1.ScalarBaseMultNonConst(&r.Key, &rj)
	secp256k1.AddNonConst(&yj, &rj, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// UnblindSignature recovers the mint's signature on Y from its
// signature on B_: C = C_ - r*K, where K is the mint key that signed.
func UnblindSignature(blindedSig *secp256k1.PublicKey, r *secp256k1.PrivateKey, mintKey *secp256k1.PublicKey) *secp256k1.PublicKey {
	negR := r.Key
	negR.Negate()
	var kj, rkj, cj, sum secp256k1.JacobianPoint
	mintKey.AsJacobian(&kj)
	secp256k1.ScalarMultNonConst(&negR, &kj, &rkj)
	blindedSig.AsJacobian(&cj)
	secp256k1.AddNonConst(&cj, &rkj, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// SignBlindedMessage is the mint-side operation C_ = k*B_. It lives
// here so tests and local mints can produce valid signatures; wallets
// never call it.
func SignBlindedMessage(blindedMessage *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bj, cj secp256k1.JacobianPoint
	blindedMessage.AsJacobian(&bj)
	secp256k1.ScalarMultNonConst(&k.Key, &bj, &cj)
	cj.ToAffine()
	return secp256k1.NewPublicKey(&cj.X, &cj.Y)
}

// VerifyDLEQ checks the discrete-log equality proof (e, s) showing
// that C_ was produced from B_ with the private key behind A:
//
//	R1 = s*G - e*A
//	R2 = s*B_ - e*C_
//	valid iff e == hashE(R1, R2, A, C_)
func VerifyDLEQ(e, s *secp256k1.ModNScalar, a, b, c *secp256k1.PublicKey) bool {
	negE := *e
	negE.Negate()

	// R1 = s*G + (-e)*A
	var sg, ea, r1j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &sg)
	var aj secp256k1.JacobianPoint
	a.AsJacobian(&aj)
	secp256k1.ScalarMultNonConst(&negE, &aj, &ea)
	secp256k1.AddNonConst(&sg, &ea, &r1j)
	r1j.ToAffine()

	// R2 = s*B_ + (-e)*C_
	var bj, sb, cj, ec, r2j secp256k1.JacobianPoint
	b.AsJacobian(&bj)
	secp256k1.ScalarMultNonConst(s, &bj, &sb)
	c.AsJacobian(&cj)
	secp256k1.ScalarMultNonConst(&negE, &cj, &ec)
	secp256k1.AddNonConst(&sb, &ec, &r2j)
	r2j.ToAffine()

	r1 := secp256k1.NewPublicKey(&r1j.X, &r1j.Y)
	r2 := secp256k1.NewPublicKey(&r2j.X, &r2j.Y)
	expected := hashE(r1, r2, a, c)
	eb, xb := e.Bytes(), expected.Bytes()
	return eb == xb
}

// GenerateDLEQ produces the mint-side proof (e, s) for C_ = k*B_.
// Like SignBlindedMessage, wallet code never calls this.
func GenerateDLEQ(k *secp256k1.PrivateKey, blindedMessage, blindedSig *secp256k1.PublicKey) (e, s *secp256k1.ModNScalar, err error) {
	nonce, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate dleq nonce: %w", err)
	}

	// R1 = n*G, R2 = n*B_
	var r1j, bj, r2j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&nonce.Key, &r1j)
	r1j.ToAffine()
	blindedMessage.AsJacobian(&bj)
	secp256k1.ScalarMultNonConst(&nonce.Key, &bj, &r2j)
	r2j.ToAffine()

	r1 := secp256k1.NewPublicKey(&r1j.X, &r1j.Y)
	r2 := secp256k1.NewPublicKey(&r2j.X, &r2j.Y)
	eScalar := hashE(r1, r2, k.PubKey(), blindedSig)

	// s = n + e*k
	sScalar := new(secp256k1.ModNScalar).Mul2(eScalar, &k.Key).Add(&nonce.Key)
	return eScalar, sScalar, nil
}

// hashE computes the challenge scalar: sha256 over the concatenated
// uncompressed hex serializations of the inputs, reduced mod N.
func hashE(points ...*secp256k1.PublicKey) *secp256k1.ModNScalar {
	h := sha256.New()
	for _, p := range points {
		h.Write([]byte(hex.EncodeToString(p.SerializeUncompressed())))
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(h.Sum(nil))
	return &s
}

// ParsePubKey decodes a compressed public key from hex.
func ParsePubKey(hexKey string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// ParseScalar decodes a 32-byte scalar from hex.
func ParseScalar(hexScalar string) (*secp256k1.ModNScalar, error) {
	raw, err := hex.DecodeString(hexScalar)
	if err != nil {
		return nil, fmt.Errorf("decode scalar: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("scalar must be 32 bytes, got %d", len(raw))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(raw); overflow {
		return nil, fmt.Errorf("scalar overflows group order")
	}
	return &s, nil
}

// HexPubKey returns the compressed hex serialization of a point.
func HexPubKey(p *secp256k1.PublicKey) string {
	return hex.EncodeToString(p.SerializeCompressed())
}

// HexScalar returns the 32-byte hex serialization of a scalar.
func HexScalar(s *secp256k1.ModNScalar) string {
	b := s.Bytes()
	return hex.EncodeToString(b[:])
}

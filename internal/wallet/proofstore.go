package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-ecash/internal/storage"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
)

// proofPrefix namespaces proof records inside the shared database.
var proofPrefix = []byte("proof/")

// ProofStore persists unspent proofs in a storage.DB. The engine
// itself works on in-memory proofs; this store is the CLI's way of
// keeping them between runs.
type ProofStore struct {
	db storage.DB
}

// NewProofStore creates a proof store over db.
func NewProofStore(db storage.DB) *ProofStore {
	return &ProofStore{db: db}
}

// proofKey identifies a proof by (keyset id, secret): the key is
// proof/<keysetID>/<sha256(secret)>, so two proofs with equal amounts
// stay distinct.
func proofKey(p cashu.Proof) []byte {
	sum := sha256.Sum256([]byte(p.Secret))
	key := make([]byte, 0, len(proofPrefix)+len(p.ID)+1+hex.EncodedLen(len(sum)))
	key = append(key, proofPrefix...)
	key = append(key, p.ID...)
	key = append(key, '/')
	key = append(key, hex.EncodeToString(sum[:])...)
	return key
}

// Put stores proofs, overwriting records with the same identity. On a
// batching database the proofs land atomically, so a crash mid-send
// cannot persist half a partition.
func (s *ProofStore) Put(proofs cashu.Proofs) error {
	if b, ok := s.db.(storage.Batcher); ok {
		batch := b.NewBatch()
		for _, p := range proofs {
			raw, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal proof: %w", err)
			}
			if err := batch.Put(proofKey(p), raw); err != nil {
				return fmt.Errorf("store proof: %w", err)
			}
		}
		return batch.Commit()
	}
	for _, p := range proofs {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal proof: %w", err)
		}
		if err := s.db.Put(proofKey(p), raw); err != nil {
			return fmt.Errorf("store proof: %w", err)
		}
	}
	return nil
}

// Delete removes proofs, typically after they have been spent.
// Missing records are not an error.
func (s *ProofStore) Delete(proofs cashu.Proofs) error {
	if b, ok := s.db.(storage.Batcher); ok {
		batch := b.NewBatch()
		for _, p := range proofs {
			if err := batch.Delete(proofKey(p)); err != nil {
				return fmt.Errorf("delete proof: %w", err)
			}
		}
		return batch.Commit()
	}
	for _, p := range proofs {
		if err := s.db.Delete(proofKey(p)); err != nil {
			return fmt.Errorf("delete proof: %w", err)
		}
	}
	return nil
}

// All returns every stored proof.
func (s *ProofStore) All() (cashu.Proofs, error) {
	var proofs cashu.Proofs
	err := s.db.ForEach(proofPrefix, func(_, value []byte) error {
		var p cashu.Proof
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("parse stored proof: %w", err)
		}
		proofs = append(proofs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

// Balance returns the sum of all stored proof amounts.
func (s *ProofStore) Balance() (uint64, error) {
	proofs, err := s.All()
	if err != nil {
		return 0, err
	}
	return proofs.Amount(), nil
}

package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// keystoreFile is the on-disk JSON format for an encrypted wallet.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	MintURL       string    `json:"mint_url"`
	Unit          string    `json:"unit"`
	EncryptedSeed []byte    `json:"encrypted_seed"`

	// Counters is the deterministic-secret recovery snapshot:
	// next counter index per keyset id.
	Counters map[string]uint32 `json:"counters"`
}

// Keystore manages encrypted seed storage on disk, plus the counter
// snapshot callers persist for deterministic-secret recovery.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given
// directory. The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// walletPath returns the file path for a wallet by name.
func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Exists reports whether a wallet file is present.
func (ks *Keystore) Exists(name string) bool {
	_, err := os.Stat(ks.walletPath(name))
	return err == nil
}

// Create creates a new encrypted wallet file from a seed.
func (ks *Keystore) Create(name, mintURL, unit string, seed, password []byte, params EncryptionParams) error {
	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("wallet %q already exists", name)
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		MintURL:       mintURL,
		Unit:          unit,
		EncryptedSeed: encrypted,
		Counters:      map[string]uint32{},
	}
	return ks.writeFile(path, &kf)
}

// Load decrypts a wallet and returns the seed bytes plus the stored
// mint URL and counter snapshot.
func (ks *Keystore) Load(name string, password []byte) (seed []byte, mintURL string, counters map[string]uint32, err error) {
	kf, err := ks.readFile(ks.walletPath(name))
	if err != nil {
		return nil, "", nil, err
	}
	seed, err = Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, "", nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	if kf.Counters == nil {
		kf.Counters = map[string]uint32{}
	}
	return seed, kf.MintURL, kf.Counters, nil
}

// SaveCounters replaces the stored counter snapshot. The seed stays
// untouched, so no password is needed.
func (ks *Keystore) SaveCounters(name string, counters map[string]uint32) error {
	path := ks.walletPath(name)
	kf, err := ks.readFile(path)
	if err != nil {
		return err
	}
	kf.Counters = counters
	return ks.writeFile(path, kf)
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet file: %w", err)
	}
	return &kf, nil
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	raw, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write wallet file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace wallet file: %w", err)
	}
	return nil
}

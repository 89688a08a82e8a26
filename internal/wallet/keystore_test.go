package wallet

import (
	"bytes"
	"testing"
)

func TestKeystoreCreateLoad(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}

	seed := testSeed()
	password := []byte("hunter2")
	if err := ks.Create("main", "https://mint.example", "sat", seed, password, fastParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ks.Exists("main") {
		t.Error("Exists = false after create")
	}
	if ks.Exists("other") {
		t.Error("Exists = true for a wallet never created")
	}

	loaded, mintURL, counters, err := ks.Load("main", password)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("seed changed across the keystore round trip")
	}
	if mintURL != "https://mint.example" {
		t.Errorf("mint url = %q, want the stored one", mintURL)
	}
	if len(counters) != 0 {
		t.Errorf("fresh wallet has counters: %v", counters)
	}
}

func TestKeystoreWrongPassword(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	if err := ks.Create("main", "https://mint.example", "sat", testSeed(), []byte("right"), fastParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, _, err := ks.Load("main", []byte("wrong")); err == nil {
		t.Error("Load succeeded with the wrong password")
	}
}

func TestKeystoreDuplicateCreate(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	if err := ks.Create("main", "https://mint.example", "sat", testSeed(), []byte("pw"), fastParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ks.Create("main", "https://mint.example", "sat", testSeed(), []byte("pw"), fastParams()); err == nil {
		t.Error("second create over the same name succeeded")
	}
}

func TestKeystoreSaveCounters(t *testing.T) {
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	password := []byte("pw")
	if err := ks.Create("main", "https://mint.example", "sat", testSeed(), password, fastParams()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ks.SaveCounters("main", map[string]uint32{"00aa": 12}); err != nil {
		t.Fatalf("SaveCounters: %v", err)
	}

	// The seed must survive a counter update untouched.
	seed, _, counters, err := ks.Load("main", password)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(seed, testSeed()) {
		t.Error("seed corrupted by counter update")
	}
	if counters["00aa"] != 12 {
		t.Errorf("counters = %v, want 00aa=12", counters)
	}
}

package hasher_test

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/docbase/adapters/hasher"
)

func TestBcryptRoundTrip(t *testing.T) {
	h := hasher.Bcrypt{Cost: bcrypt.MinCost}
	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(hash) == "s3cret" {
		t.Fatal("hash equals plaintext")
	}
	if !h.Compare(hash, "s3cret") {
		t.Error("correct password rejected")
	}
	if h.Compare(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}

func TestBcryptCostClamped(t *testing.T) {
	for _, cost := range []int{-1, 0, 99} {
		h := hasher.Bcrypt{Cost: cost}
		hash, err := h.Hash("x")
		if err != nil {
			t.Fatalf("cost %d: %v", cost, err)
		}
		got, err := bcrypt.Cost(hash)
		if err != nil {
			t.Fatalf("cost %d: %v", cost, err)
		}
		if got != bcrypt.DefaultCost {
			t.Errorf("cost %d clamped to %d, want %d", cost, got, bcrypt.DefaultCost)
		}
	}
}

func TestPlain(t *testing.T) {
	h := hasher.Plain{}
	hash, _ := h.Hash("open")
	if !h.Compare(hash, "open") || h.Compare(hash, "shut") {
		t.Error("plain hasher comparison broken")
	}
}

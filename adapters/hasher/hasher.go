// Package hasher provides credential hashing for system accounts.
package hasher

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/docbase/ports"
)

// Bcrypt hashes credentials with bcrypt. The zero value uses the
// default cost.
type Bcrypt struct {
	Cost int
}

func (h Bcrypt) cost() int {
	if h.Cost < bcrypt.MinCost || h.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Hash generates a bcrypt hash from plaintext.
func (h Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
}

// Compare reports whether plaintext matches a stored hash.
func (h Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Plain stores the plaintext unchanged. Test-only; it keeps credential
// fixtures readable and avoids bcrypt cost in hot test loops.
type Plain struct{}

func (Plain) Hash(plaintext string) ([]byte, error) { return []byte(plaintext), nil }

func (Plain) Compare(hash []byte, plaintext string) bool {
	return string(hash) == plaintext
}

var (
	_ ports.Hasher = Bcrypt{}
	_ ports.Hasher = Plain{}
)

package access

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// BcryptHasher hashes passwords with bcrypt. The algorithm and cost are
// embedded in the digest.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher with the given cost, falling back to the
// package default when cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return &BcryptHasher{cost: cost}
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	d, err := bcrypt.GenerateFromPassword([]byte(password), h.getCost())
	return string(d), err
}

// Verify reports whether password matches digest. Malformed digests never match.
func (h *BcryptHasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func (h *BcryptHasher) getCost() int {
	if h == nil || h.cost == 0 {
		return passwordHashCost()
	}
	return h.cost
}

package callbackd

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches what existing credential rows were written
// with. The hash choice is a storage-comparison policy, not part of the
// lockout state machine.
const DefaultBcryptCost = 12

const saltBytes = 16

// bcrypt only consumes the first 72 bytes of its input. The hex SHA-512
// pre-hash is 128 bytes, so both writing and checking must truncate the
// same way or stored hashes stop matching.
const bcryptInputLimit = 72

func prehash(password, salt string) []byte {
	sum := sha512.Sum512([]byte(password + salt))
	pre := []byte(hex.EncodeToString(sum[:]))
	return pre[:bcryptInputLimit]
}

// HashPassword produces the stored representation of a password: bcrypt
// over a salted SHA-512 pre-hash, at DefaultBcryptCost.
func HashPassword(password, salt string) (string, error) {
	return HashPasswordCost(password, salt, DefaultBcryptCost)
}

// HashPasswordCost is HashPassword with an explicit bcrypt cost. Tests use
// bcrypt.MinCost; production rows use DefaultBcryptCost.
func HashPasswordCost(password, salt string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword(prehash(password, salt), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password+salt matches the stored hash.
func CheckPassword(storedHash, password, salt string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), prehash(password, salt)) == nil
}

// NewSalt returns a fresh random per-credential salt, hex encoded.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package callbackd

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"
)

// ErrDecryptFailed is returned when no candidate rotation window produced a
// plaintext that passed validation. It is deliberately indistinguishable
// from "wrong seed" and "corrupted data".
var ErrDecryptFailed = errors.New("no rotation window produced a valid plaintext")

// RotatingCipher combines the key schedule with the obfuscation cipher.
// Encryption always uses the current window's key; decryption walks an
// ordered list of candidate windows, bounding the tolerance to clock skew
// between communicating parties.
//
// Keys are derived fresh for every call and never cached.
type RotatingCipher struct {
	Seed          string
	RotationHours int
	Algo          Algorithm
	KeyLength     int
	WindowDepth   int

	// Validate, when set, decides whether a candidate plaintext is
	// well-formed. The keystream is unauthenticated, so this semantic check
	// is what distinguishes a true decrypt from a keystream mismatch that
	// still decoded. When nil, only UTF-8 validity is required.
	Validate func([]byte) bool

	now func() time.Time
}

// NewRotatingCipher returns a cipher with the default key length and window
// depth. Seed and rotation period must match the encrypting party's
// configuration exactly; a mismatch in either silently produces
// undecryptable payloads.
func NewRotatingCipher(seed string, rotationHours int, algo Algorithm) *RotatingCipher {
	return &RotatingCipher{
		Seed:          seed,
		RotationHours: rotationHours,
		Algo:          algo,
		KeyLength:     DefaultKeyLength,
		WindowDepth:   DefaultWindowDepth,
		now:           time.Now,
	}
}

// JSONValidator accepts plaintexts that parse as JSON. Callers exchanging
// structured reports should install it (or something stricter) as Validate.
func JSONValidator(b []byte) bool {
	return json.Valid(b)
}

func (c *RotatingCipher) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *RotatingCipher) keyLength() int {
	if c.KeyLength > 0 {
		return c.KeyLength
	}
	return DefaultKeyLength
}

// Encrypt obfuscates plaintext under the current rotation window's key.
func (c *RotatingCipher) Encrypt(plaintext []byte) (string, error) {
	key, err := DeriveKey(c.Seed, WindowStart(c.clock(), c.RotationHours), c.Algo, c.keyLength())
	if err != nil {
		return "", err
	}
	return EncryptPayload(plaintext, key)
}

// Decrypt tries each candidate window in order, newest first. A candidate
// succeeds when the payload decodes, the result is valid UTF-8, and the
// Validate hook (if any) accepts it. Malformed base64 reports ErrDecode
// without trying any window; exhausting all candidates reports
// ErrDecryptFailed.
func (c *RotatingCipher) Decrypt(payload string) ([]byte, error) {
	windows := CandidateWindows(c.clock(), c.RotationHours, c.WindowDepth)

	first := true
	for _, w := range windows {
		key, err := DeriveKey(c.Seed, w, c.Algo, c.keyLength())
		if err != nil {
			return nil, err
		}
		plain, err := DecryptPayload(payload, key)
		if err != nil {
			if first {
				// Decode failure is key-independent; retrying other
				// windows cannot help.
				return nil, err
			}
			return nil, ErrDecryptFailed
		}
		first = false
		if !utf8.Valid(plain) {
			continue
		}
		if c.Validate != nil && !c.Validate(plain) {
			continue
		}
		return plain, nil
	}
	return nil, ErrDecryptFailed
}

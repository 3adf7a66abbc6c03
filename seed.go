package callbackd

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// Seed provisioning helpers. The derivation treats the seed as an opaque
// string, so any value works; generating it as a BIP-39 mnemonic makes
// out-of-band sharing (reading it over a phone, typing it on the other
// side) far less error-prone than a random hex blob.

// NewSeedMnemonic generates a fresh 256-bit shared seed as a mnemonic
// phrase. Provision the exact same phrase on every communicating party.
func NewSeedMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeSeed trims and collapses whitespace so a hand-typed mnemonic
// matches the generated one. Non-mnemonic seeds pass through trimmed.
func NormalizeSeed(seed string) string {
	return strings.Join(strings.Fields(seed), " ")
}

// ValidSeedMnemonic reports whether seed parses as a BIP-39 mnemonic.
// Purely advisory: opaque non-mnemonic seeds remain valid configuration.
func ValidSeedMnemonic(seed string) bool {
	return bip39.IsMnemonicValid(NormalizeSeed(seed))
}

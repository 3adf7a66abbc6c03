package callbackd

import (
	"encoding/base64"
	"errors"
)

// ErrInvalidKey is returned when an empty key is supplied to the cipher.
// An empty key is a programming error, not a recoverable condition.
var ErrInvalidKey = errors.New("cipher key must not be empty")

// ErrDecode is returned when an encoded payload is not valid base64. It
// means "not decryptable with this encoding" and is the only structural
// check the cipher offers.
var ErrDecode = errors.New("payload is not valid base64")

// xorBytes applies the repeating-key XOR keystream. The operation is its
// own inverse: applying it twice with the same key restores the input.
func xorBytes(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// EncryptPayload obfuscates plaintext under key and returns a text-safe
// base64 encoding. The output carries no metadata about which key produced
// it.
//
// This is obfuscation, not encryption: no integrity tag is produced and a
// capable adversary can recover the keystream. See the package
// documentation.
func EncryptPayload(plaintext, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrInvalidKey
	}
	return base64.StdEncoding.EncodeToString(xorBytes(plaintext, key)), nil
}

// DecryptPayload reverses EncryptPayload. A base64 failure reports
// ErrDecode before any XOR is attempted. Because the keystream is
// unauthenticated, a successful decode does NOT mean the key was right:
// callers must validate that the result is well-formed for their format.
func DecryptPayload(payload string, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrDecode
	}
	return xorBytes(raw, key), nil
}

package callbackd

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptPayload_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	tests := []struct {
		name  string
		plain []byte
	}{
		{name: "ascii", plain: []byte("hello world")},
		{name: "json", plain: []byte(`{"hostname":"db-01","port":22}`)},
		{name: "empty", plain: []byte{}},
		{name: "binary", plain: []byte{0x00, 0xff, 0x10, 0x80, 0x7f}},
		{name: "longer than key", plain: bytes.Repeat([]byte("payload "), 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := EncryptPayload(tt.plain, key)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecryptPayload(enc, key)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.plain) {
				t.Errorf("round trip = %q, want %q", got, tt.plain)
			}
		})
	}
}

func TestDecryptPayload_WrongKeyStillDecodes(t *testing.T) {
	// The keystream carries no integrity tag: a wrong key produces garbage,
	// not an error. Callers must validate the plaintext themselves.
	enc, err := EncryptPayload([]byte("sensitive"), []byte("key-one"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptPayload(enc, []byte("key-two"))
	if err != nil {
		t.Fatalf("wrong key returned error %v, want silent garbage", err)
	}
	if bytes.Equal(got, []byte("sensitive")) {
		t.Error("wrong key recovered the plaintext")
	}
}

func TestCipher_EmptyKey(t *testing.T) {
	if _, err := EncryptPayload([]byte("x"), nil); err != ErrInvalidKey {
		t.Errorf("Encrypt err = %v, want ErrInvalidKey", err)
	}
	if _, err := DecryptPayload("eA==", nil); err != ErrInvalidKey {
		t.Errorf("Decrypt err = %v, want ErrInvalidKey", err)
	}
}

func TestDecryptPayload_BadBase64(t *testing.T) {
	if _, err := DecryptPayload("not*base64!", []byte("key")); err != ErrDecode {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

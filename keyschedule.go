package callbackd

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"time"
)

// Algorithm selects the digest used for key derivation.
type Algorithm string

const (
	// AlgoSHA256 is the default derivation digest.
	AlgoSHA256 Algorithm = "sha256"
	// AlgoSHA512 derives from a 512-bit digest.
	AlgoSHA512 Algorithm = "sha512"
	// AlgoMD5 exists for legacy counterparties only.
	AlgoMD5 Algorithm = "md5"
)

const (
	// DefaultKeyLength is the derived key size in bytes.
	DefaultKeyLength = 32
	// DefaultRotationHours is the width of a rotation window.
	DefaultRotationHours = 24
	// DefaultWindowDepth is how many adjacent windows a decrypting party
	// tries: the current one plus one step of clock-skew tolerance.
	DefaultWindowDepth = 2
)

// ErrKeyLength is returned when a non-positive key length is requested.
var ErrKeyLength = errors.New("derived key length must be positive")

// ParseAlgorithm maps a configured name to an Algorithm. Unknown names fall
// back to SHA-256, which is what deployed counterparties do.
func ParseAlgorithm(name string) Algorithm {
	switch Algorithm(name) {
	case AlgoSHA512:
		return AlgoSHA512
	case AlgoMD5:
		return AlgoMD5
	default:
		return AlgoSHA256
	}
}

// DeriveKey derives keyLen bytes from the shared seed and a rotation window
// start. The derivation is a pure function: the window start is formatted as
// its UTC calendar date, digested together with the seed, and the digest is
// extended deterministically until it covers keyLen.
//
// The extension step always uses SHA-256 regardless of algo. That asymmetry
// is part of the wire contract with existing counterparties and must not be
// "fixed".
func DeriveKey(seed string, windowStart time.Time, algo Algorithm, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, ErrKeyLength
	}

	input := []byte(seed + ":" + windowStart.UTC().Format("2006-01-02"))
	material := digestFor(algo, input)

	for len(material) < keyLen {
		buf := make([]byte, 0, len(material)+len(input))
		buf = append(buf, material...)
		buf = append(buf, input...)
		next := sha256.Sum256(buf)
		material = append(material, next[:]...)
	}

	return material[:keyLen], nil
}

func digestFor(algo Algorithm, input []byte) []byte {
	switch algo {
	case AlgoSHA512:
		sum := sha512.Sum512(input)
		return sum[:]
	case AlgoMD5:
		sum := md5.Sum(input)
		return sum[:]
	default:
		sum := sha256.Sum256(input)
		return sum[:]
	}
}

// WindowStart returns the start of the rotation window containing now.
// Windows are contiguous fixed-width buckets aligned to the unix epoch, not
// to wall-clock midnight: floor(hoursSinceEpoch/rotation)*rotation.
func WindowStart(now time.Time, rotationHours int) time.Time {
	if rotationHours <= 0 {
		rotationHours = DefaultRotationHours
	}
	hours := now.UTC().Unix() / 3600
	start := (hours / int64(rotationHours)) * int64(rotationHours)
	return time.Unix(start*3600, 0).UTC()
}

// CandidateWindows returns the ordered window starts a decrypting party
// should try: the current window first, then depth-1 preceding windows.
// Depth bounds the skew tolerance between communicating parties.
func CandidateWindows(now time.Time, rotationHours, depth int) []time.Time {
	if rotationHours <= 0 {
		rotationHours = DefaultRotationHours
	}
	if depth <= 0 {
		depth = DefaultWindowDepth
	}
	current := WindowStart(now, rotationHours)
	out := make([]time.Time, 0, depth)
	for i := 0; i < depth; i++ {
		out = append(out, current.Add(-time.Duration(i*rotationHours)*time.Hour))
	}
	return out
}

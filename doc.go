// Package callbackd implements a callback registration service for remote
// agents: a rotating-key obfuscation cipher for inbound reports, a
// brute-force lockout guard for the administrative login, and a
// tamper-evident audit trail.
//
// Key material is never provisioned over the wire. Both parties derive the
// current key from a shared seed and the current rotation window (a
// fixed-width time bucket aligned to the unix epoch), so keys rotate in
// lockstep without coordination. A decrypting party tolerates bounded clock
// skew by also trying a configurable number of preceding windows.
//
// SECURITY MODEL — READ BEFORE USE
//
// The payload cipher is a repeating-key XOR keystream. It is an obfuscation
// layer, not encryption: it carries no authentication tag and offers no
// confidentiality against a capable adversary. The scheme is preserved
// exactly as deployed counterparties expect it; upgrading it to an
// authenticated cipher would break interoperability. Do not reuse it for
// anything that needs real confidentiality or integrity.
//
// The audit trail is the integrity mechanism: every recorded event carries
// a one-way digest over its fields, and a verifier can recompute the
// digests on demand to flag post-hoc tampering.
//
// Usage:
//
//	cipher := NewRotatingCipher(seed, 24, AlgoSHA256)
//	payload, _ := cipher.Encrypt(reportJSON)   // current window
//	plain, err := cipher.Decrypt(payload)      // current window, then previous
//
//	guard := NewGuard(store, store, 5, 30*time.Minute)
//	decision, err := guard.Verify(ctx, "admin", password)
package callbackd

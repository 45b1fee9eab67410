// Package envelope implements the binary container format for sealed
// vault payloads.
//
// On-disk layout (all multi-byte fields big-endian):
//
//	magic      4 bytes  "CRMV"
//	version    2 bytes  uint16, currently 1
//	nonce     12 bytes  GCM nonce, fresh per seal
//	auth_tag  16 bytes  GCM authentication tag
//	ciphertext N bytes  AES-256-GCM output
//
// The magic and version bytes are bound into the AEAD as associated
// data, so header tampering fails authentication. Unknown versions are
// rejected before any decryption is attempted.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
package envelope

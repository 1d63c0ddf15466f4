package images

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint maps a payload to its content address.
type Fingerprint func(payload []byte) string

// SHA256 fingerprints the whole payload. It is the default.
func SHA256(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// PrefixSHA256 fingerprints only the first n bytes of a payload.
// Distinct payloads sharing a prefix collide and will be deduplicated as one
// image; it exists to stay compatible with boards written by older clients.
func PrefixSHA256(n int) Fingerprint {
	return func(payload []byte) string {
		if n > 0 && len(payload) > n {
			payload = payload[:n]
		}
		return SHA256(payload)
	}
}

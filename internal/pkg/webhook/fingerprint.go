package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FingerprintPayload hashes the normalized event body. JSON payloads are
// decoded and re-encoded so key order and whitespace do not change the
// fingerprint; anything that does not parse as JSON is hashed as-is.
// This catches senders that reissue a new event id for a resend of the
// same logical event.
func FingerprintPayload(raw []byte) string {
	normalized := raw
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		// encoding/json writes map keys in sorted order.
		if encoded, err := json.Marshal(decoded); err == nil {
			normalized = encoded
		}
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintPayloadNormalizesJSON(t *testing.T) {
	a := FingerprintPayload([]byte(`{"amount": 100, "currency": "EUR"}`))
	b := FingerprintPayload([]byte(`{"currency":"EUR","amount":100}`))
	assert.Equal(t, a, b, "key order and whitespace must not change the fingerprint")

	c := FingerprintPayload([]byte(`{"amount": 101, "currency": "EUR"}`))
	assert.NotEqual(t, a, c)
}

func TestFingerprintPayloadNonJSON(t *testing.T) {
	a := FingerprintPayload([]byte("not json at all"))
	b := FingerprintPayload([]byte("not json at all"))
	c := FingerprintPayload([]byte("not json at all "))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "non-JSON bodies are hashed byte for byte")
	assert.Len(t, a, 64)
}

package webhook

import (
	"testing"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/env"
	"github.com/stretchr/testify/assert"
)

func TestRefillTokens(t *testing.T) {
	capacity := int64(5000) // 5 tokens
	rate := int64(1000)     // 1 token/s

	tests := []struct {
		name    string
		tokens  int64
		elapsed time.Duration
		want    int64
	}{
		{"no elapsed time", 2000, 0, 2000},
		{"negative elapsed never drains", 2000, -time.Second, 2000},
		{"one second adds one token", 2000, time.Second, 3000},
		{"partial second adds milli tokens", 2000, 500 * time.Millisecond, 2500},
		{"capped at capacity", 4500, 10 * time.Second, 5000},
		{"empty bucket refills fully after capacity/rate", 0, 5 * time.Second, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refillTokens(tt.tokens, capacity, rate, tt.elapsed))
		})
	}
}

func TestConfigForSource(t *testing.T) {
	assert.Equal(t, DefaultBucketConfig, ConfigForSource(""))
	assert.Equal(t, DefaultBucketConfig, ConfigForSource("unknown-source"))

	env.Env = map[string]string{
		"RATE_CAPACITY_PAYGRID":       "5",
		"RATE_REFILL_PER_SEC_PAYGRID": "1",
	}
	defer func() { env.Env = nil }()

	cfg := ConfigForSource("paygrid")
	assert.Equal(t, int64(5000), cfg.CapacityMilli)
	assert.Equal(t, int64(1000), cfg.RefillMilliPerSec)
}

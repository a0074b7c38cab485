package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsReplayAttack(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		declared time.Time
		skew     time.Duration
		want     bool
	}{
		{"exact now", now, 5 * time.Minute, false},
		{"just inside past window", now.Add(-5 * time.Minute), 5 * time.Minute, false},
		{"just outside past window", now.Add(-5*time.Minute - time.Second), 5 * time.Minute, true},
		{"future inside window", now.Add(4 * time.Minute), 5 * time.Minute, false},
		{"future outside window", now.Add(6 * time.Minute), 5 * time.Minute, true},
		{"zero skew falls back to default", now.Add(-4 * time.Minute), 0, false},
		{"stale with default skew", now.Add(-time.Hour), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReplayAttack(tt.declared, now, tt.skew))
		})
	}
}

package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/cache"
	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	signalKeyPrefix = "webhook:signals"
	signalKeyTTL    = 48 * time.Hour
)

// SecuritySignals records per-source rejection counters in Redis hashes,
// one hash per signal and day. Recording is best-effort: a cache outage
// must never change an ingestion verdict.
type SecuritySignals struct {
	client *redis.Client
}

// NewSecuritySignals uses the shared cache client.
func NewSecuritySignals() *SecuritySignals {
	return &SecuritySignals{client: cache.GetClient()}
}

func (s *SecuritySignals) AuthFailure(source string) {
	s.incr(webhook.SignalAuthFailure, source)
}

func (s *SecuritySignals) ReplayBlocked(source string) {
	s.incr(webhook.SignalReplayBlocked, source)
}

func (s *SecuritySignals) Throttled(source string) {
	s.incr(webhook.SignalThrottled, source)
}

func (s *SecuritySignals) FingerprintFlagged(source string) {
	s.incr(webhook.SignalFingerprintFlagged, source)
}

// TodayBySource returns the per-source counts recorded today for a signal.
func (s *SecuritySignals) TodayBySource(signal string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := s.client.HGetAll(ctx, signalKey(signal, time.Now())).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(data))
	for source, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		counts[source] = n
	}
	return counts, nil
}

func (s *SecuritySignals) incr(signal, source string) {
	ctx := context.Background()
	key := signalKey(signal, time.Now())
	if err := s.client.HIncrBy(ctx, key, source, 1).Err(); err != nil {
		log.Warnf("[Signals] failed to record %s for %s: %v", signal, source, err)
		return
	}
	// Hashes roll over daily; the TTL just keeps abandoned keys from piling up.
	s.client.Expire(ctx, key, signalKeyTTL)
}

func signalKey(signal string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", signalKeyPrefix, signal, day.Format("2006-01-02"))
}

package webhook

import (
	"strconv"
	"strings"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/env"
)

// UnitCostMilli is the token cost of a single ingestion request.
const UnitCostMilli int64 = 1000

// IngestBucketKey is the bucket key for the ingestion endpoint. Other
// endpoints get their own key so a flood on one cannot starve another.
const IngestBucketKey = "ingest"

// BucketConfig describes one token bucket. Counts are milli-tokens so the
// refill arithmetic stays in integers and never drifts.
type BucketConfig struct {
	CapacityMilli     int64
	RefillMilliPerSec int64
}

// DefaultBucketConfig is 60 requests burst, refilled at 10/s.
var DefaultBucketConfig = BucketConfig{
	CapacityMilli:     60 * UnitCostMilli,
	RefillMilliPerSec: 10 * UnitCostMilli,
}

// ConfigForSource reads per-source overrides from the environment
// (RATE_CAPACITY_<SOURCE>, RATE_REFILL_PER_SEC_<SOURCE>, whole tokens),
// falling back to DefaultBucketConfig.
func ConfigForSource(source string) BucketConfig {
	cfg := DefaultBucketConfig
	suffix := strings.ToUpper(strings.TrimSpace(source))
	if suffix == "" {
		return cfg
	}
	if v, err := strconv.ParseInt(env.GetEnv("RATE_CAPACITY_"+suffix, ""), 10, 64); err == nil && v > 0 {
		cfg.CapacityMilli = v * UnitCostMilli
	}
	if v, err := strconv.ParseInt(env.GetEnv("RATE_REFILL_PER_SEC_"+suffix, ""), 10, 64); err == nil && v > 0 {
		cfg.RefillMilliPerSec = v * UnitCostMilli
	}
	return cfg
}

// refillTokens computes the bucket level after elapsed time, capped at
// capacity. Monotonic: a non-negative elapsed never lowers the level.
func refillTokens(tokensMilli, capacityMilli, refillMilliPerSec int64, elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return tokensMilli
	}
	refilled := tokensMilli + elapsed.Milliseconds()*refillMilliPerSec/1000
	if refilled > capacityMilli {
		return capacityMilli
	}
	return refilled
}

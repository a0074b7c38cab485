package webhook

import "time"

// DefaultReplaySkew is the maximum accepted difference between a request's
// declared timestamp and server time. Nonces older than this window are
// safe to purge.
const DefaultReplaySkew = 5 * time.Minute

// NoncePurgeBatchSize bounds each delete issued by the nonce purge job so
// it never competes for long with live traffic.
const NoncePurgeBatchSize = 500

// IsReplayAttack flags requests whose declared time falls outside the
// accepted skew window. This catches replays that reuse a stale-but-valid
// nonce format, independent of the nonce ledger itself.
func IsReplayAttack(declared, now time.Time, skew time.Duration) bool {
	if skew <= 0 {
		skew = DefaultReplaySkew
	}
	diff := now.Sub(declared)
	if diff < 0 {
		diff = -diff
	}
	return diff > skew
}

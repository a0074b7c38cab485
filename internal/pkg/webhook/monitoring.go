package webhook

import (
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
)

// SignalReader exposes the per-source security counters recorded through
// SecuritySignals, for the health view.
type SignalReader interface {
	TodayBySource(signal string) (map[string]int64, error)
}

// Signal names shared between the counter writer and the health view.
const (
	SignalAuthFailure        = "auth_failure"
	SignalReplayBlocked      = "replay_blocked"
	SignalThrottled          = "throttled"
	SignalFingerprintFlagged = "fingerprint_flagged"
)

// HealthSummary is the read-only operational aggregate served to the
// alerting consumer. Nothing here is ever mutated internally.
type HealthSummary struct {
	EventCounts        map[string]int64      `json:"event_counts"`
	RecentFailures     []models.WebhookEvent `json:"recent_failures"`
	DLQBacklog         int64                 `json:"dlq_backlog"`
	DLQOldestAgeSec    int64                 `json:"dlq_oldest_age_sec"`
	AuthFailures       map[string]int64      `json:"auth_failures_today"`
	ReplaysBlocked     map[string]int64      `json:"replays_blocked_today"`
	ThrottledBySource  map[string]int64      `json:"throttled_today"`
	FingerprintFlagged map[string]int64      `json:"fingerprint_flagged_today"`
	GeneratedAt        time.Time             `json:"generated_at"`
}

// Monitoring aggregates ledger and counter state for alerting.
type Monitoring struct {
	repo    Repository
	signals SignalReader
}

func NewMonitoring(repo Repository, signals SignalReader) *Monitoring {
	return &Monitoring{repo: repo, signals: signals}
}

// Summary builds the health view. Counter read errors degrade to empty
// maps; the ledger aggregates are authoritative and still surface.
func (m *Monitoring) Summary(recentWindow time.Duration, failureLimit int) (*HealthSummary, error) {
	counts, err := m.repo.CountEventsByStatus()
	if err != nil {
		return nil, err
	}
	failures, err := m.repo.RecentFailedEvents(time.Now().Add(-recentWindow), failureLimit)
	if err != nil {
		return nil, err
	}
	backlog, oldest, err := m.repo.DeadLetterBacklog()
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{
		EventCounts:    counts,
		RecentFailures: failures,
		DLQBacklog:     backlog,
		GeneratedAt:    time.Now(),
	}
	if oldest != nil {
		summary.DLQOldestAgeSec = int64(time.Since(*oldest).Seconds())
	}
	if m.signals != nil {
		summary.AuthFailures = m.readSignal(SignalAuthFailure)
		summary.ReplaysBlocked = m.readSignal(SignalReplayBlocked)
		summary.ThrottledBySource = m.readSignal(SignalThrottled)
		summary.FingerprintFlagged = m.readSignal(SignalFingerprintFlagged)
	}
	return summary, nil
}

// DeadLetters lists the oldest unresolved entries for the admin view.
func (m *Monitoring) DeadLetters(limit int) ([]models.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.repo.ListUnresolvedDeadLetters(limit)
}

func (m *Monitoring) readSignal(signal string) map[string]int64 {
	counts, err := m.signals.TodayBySource(signal)
	if err != nil {
		return map[string]int64{}
	}
	return counts
}

package maintenance

import (
	"sync"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// Default cadences. The nonce purge must run at least once per skew window
// so the ledger stays bounded; the rest are low-urgency housekeeping.
const (
	DefaultNoncePurgeInterval    = 1 * time.Minute
	DefaultBucketCleanupInterval = 10 * time.Minute
	DefaultStaleSweepInterval    = 5 * time.Minute
	DefaultRetentionInterval     = 1 * time.Hour
	DefaultDLQAlertInterval      = 15 * time.Minute

	DefaultEventRetention    = 90 * 24 * time.Hour
	DefaultProcessingTimeout = 15 * time.Minute
	DefaultDLQAlertAge       = 1 * time.Hour
	DefaultPurgeBatchSize    = 500
)

// Manager runs the periodic purge and cleanup jobs off the request path.
// All jobs use small batched deletes so they never hold resources long
// enough to interfere with live traffic.
type Manager struct {
	repo    webhook.Repository
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	NoncePurgeInterval    time.Duration
	BucketCleanupInterval time.Duration
	StaleSweepInterval    time.Duration
	RetentionInterval     time.Duration
	DLQAlertInterval      time.Duration
	EventRetention        time.Duration
	ProcessingTimeout     time.Duration
	DLQAlertAge           time.Duration
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global maintenance manager (singleton).
func GetManager(repo webhook.Repository) *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(repo)
	})
	return globalManager
}

// NewManager creates a manager with default cadences.
func NewManager(repo webhook.Repository) *Manager {
	return &Manager{
		repo:                  repo,
		stopCh:                make(chan struct{}),
		NoncePurgeInterval:    DefaultNoncePurgeInterval,
		BucketCleanupInterval: DefaultBucketCleanupInterval,
		StaleSweepInterval:    DefaultStaleSweepInterval,
		RetentionInterval:     DefaultRetentionInterval,
		DLQAlertInterval:      DefaultDLQAlertInterval,
		EventRetention:        DefaultEventRetention,
		ProcessingTimeout:     DefaultProcessingTimeout,
		DLQAlertAge:           DefaultDLQAlertAge,
	}
}

// Start launches the background tickers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Maintenance] Starting background jobs")

	m.spawn(m.NoncePurgeInterval, m.purgeNonces)
	m.spawn(m.BucketCleanupInterval, m.cleanupBuckets)
	m.spawn(m.StaleSweepInterval, m.sweepStaleProcessing)
	m.spawn(m.RetentionInterval, m.sweepRetention)
	m.spawn(m.DLQAlertInterval, m.alertStaleDeadLetters)
}

// Stop halts the background tickers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Maintenance] Stopping background jobs...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Maintenance] All background jobs stopped")
}

func (m *Manager) spawn(interval time.Duration, job func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				job()
			}
		}
	}()
}

func (m *Manager) purgeNonces() {
	cutoff := time.Now().Add(-webhook.DefaultReplaySkew)
	n, err := m.repo.PurgeExpiredNonces(cutoff, webhook.NoncePurgeBatchSize)
	if err != nil {
		log.Errorf("[Maintenance] nonce purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Maintenance] purged %d expired nonces", n)
	}
}

func (m *Manager) cleanupBuckets() {
	n, err := m.repo.CleanupStaleBuckets(time.Now())
	if err != nil {
		log.Errorf("[Maintenance] bucket cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Maintenance] removed %d stale rate limit buckets", n)
	}
}

// sweepStaleProcessing dead-letters events stuck before a terminal state,
// typically after a crash between the claim and the outcome commit. Without
// it such rows would swallow every retry as a duplicate forever.
func (m *Manager) sweepStaleProcessing() {
	n, err := m.repo.SweepStaleProcessing(time.Now().Add(-m.ProcessingTimeout))
	if err != nil {
		log.Errorf("[Maintenance] stale processing sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Warnf("[Maintenance] dead-lettered %d events stuck in processing", n)
	}
}

func (m *Manager) sweepRetention() {
	cutoff := time.Now().Add(-m.EventRetention)
	n, err := m.repo.PurgeOldEvents(cutoff, DefaultPurgeBatchSize)
	if err != nil {
		log.Errorf("[Maintenance] retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Maintenance] purged %d webhook events past retention", n)
	}
}

func (m *Manager) alertStaleDeadLetters() {
	entries, err := m.repo.UnresolvedDeadLettersOlderThan(time.Now().Add(-m.DLQAlertAge))
	if err != nil {
		log.Errorf("[Maintenance] DLQ age check failed: %v", err)
		return
	}
	for _, entry := range entries {
		log.Warnf("[Maintenance] DLQ entry %d unresolved since %s (attempts=%d): %s",
			entry.ID, entry.FirstFailedAt.Format(time.RFC3339), entry.Attempts, entry.FailureReason)
	}
}

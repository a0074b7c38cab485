package webhook

import (
	"fmt"
	"sync"
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
	"gorm.io/gorm"
)

// memoryRepo implements Repository with the same atomicity semantics as
// the GORM implementation (unique-key claims, per-bucket read-modify-write)
// so processor behavior can be tested without a database. The clock is
// injectable for refill tests.
type memoryRepo struct {
	mu          sync.Mutex
	events      map[string]*models.WebhookEvent
	nonces      map[string]time.Time
	buckets     map[string]*models.RateLimitBucket
	deadLetters map[uint]*models.DeadLetterEntry
	nextEventID uint
	nextDLQID   uint
	nextBucket  uint
	now         func() time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		events:      make(map[string]*models.WebhookEvent),
		nonces:      make(map[string]time.Time),
		buckets:     make(map[string]*models.RateLimitBucket),
		deadLetters: make(map[uint]*models.DeadLetterEntry),
		now:         time.Now,
	}
}

func eventKey(source, providerEventID string) string {
	return source + "|" + providerEventID
}

func (r *memoryRepo) FindEvent(source, providerEventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventKey(source, providerEventID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *memoryRepo) FindProcessedByPayloadHash(source, eventType, payloadHash, excludeProviderEventID string, since time.Time) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Source == source &&
			ev.EventType == eventType &&
			ev.PayloadHash == payloadHash &&
			ev.ProviderEventID != excludeProviderEventID &&
			ev.Status == models.WebhookStatusProcessed &&
			!ev.ReceivedAt.Before(since) {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) ClaimEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey(event.Source, event.ProviderEventID)
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	event.ReceivedAt = r.now()
	stored := *event
	r.events[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (r *memoryRepo) MarkEventProcessing(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id && ev.Status == models.WebhookStatusReceived {
			ev.Status = models.WebhookStatusProcessing
		}
	}
	return nil
}

func (r *memoryRepo) MarkEventProcessed(id uint, res MutationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID != id {
			continue
		}
		if ev.Status != models.WebhookStatusProcessing && ev.Status != models.WebhookStatusFailed {
			return nil
		}
		now := r.now()
		ev.Status = models.WebhookStatusProcessed
		ev.ProcessedAt = &now
		ev.ErrorDetail = res.Note
		ev.ContactID = res.ContactID
		ev.TransactionID = res.TransactionID
		ev.SubscriptionID = res.SubscriptionID
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *memoryRepo) MarkEventFailedWithDeadLetter(id uint, reason string) (*models.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id && ev.Status == models.WebhookStatusProcessing {
			ev.Status = models.WebhookStatusFailed
			ev.ErrorDetail = reason
		}
	}
	return r.recordFailureLocked(id, reason), nil
}

func (r *memoryRepo) SweepStaleProcessing(olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ev := range r.events {
		switch ev.Status {
		case models.WebhookStatusReceived, models.WebhookStatusProcessing:
		default:
			continue
		}
		if !ev.ReceivedAt.Before(olderThan) {
			continue
		}
		ev.Status = models.WebhookStatusFailed
		ev.ErrorDetail = "processing timed out"
		r.recordFailureLocked(ev.ID, "processing timed out")
		n++
	}
	return n, nil
}

func (r *memoryRepo) PurgeOldEvents(olderThan time.Time, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, ev := range r.events {
		if ev.ReceivedAt.Before(olderThan) {
			delete(r.events, key)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) RecordNonce(source, nonce string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := source + "|" + nonce
	if _, ok := r.nonces[key]; ok {
		return true, nil
	}
	r.nonces[key] = r.now()
	return false, nil
}

func (r *memoryRepo) PurgeExpiredNonces(olderThan time.Time, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, created := range r.nonces {
		if created.Before(olderThan) {
			delete(r.nonces, key)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) CheckoutBucket(source, bucketKey string, costMilli int64, cfg BucketConfig) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	key := source + "|" + bucketKey
	bucket, ok := r.buckets[key]
	if !ok {
		r.nextBucket++
		bucket = &models.RateLimitBucket{
			ID:                r.nextBucket,
			Source:            source,
			BucketKey:         bucketKey,
			TokensMilli:       cfg.CapacityMilli,
			CapacityMilli:     cfg.CapacityMilli,
			RefillMilliPerSec: cfg.RefillMilliPerSec,
			LastRefillAt:      now,
		}
		r.buckets[key] = bucket
	}

	tokens := refillTokens(bucket.TokensMilli, bucket.CapacityMilli, bucket.RefillMilliPerSec, now.Sub(bucket.LastRefillAt))
	allowed := tokens >= costMilli
	if allowed {
		tokens -= costMilli
	}
	bucket.TokensMilli = tokens
	bucket.LastRefillAt = now
	return allowed, tokens, nil
}

func (r *memoryRepo) CleanupStaleBuckets(now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, bucket := range r.buckets {
		if bucket.RefillMilliPerSec <= 0 {
			continue
		}
		if now.Sub(bucket.LastRefillAt) >= bucket.IdleCutoff() {
			delete(r.buckets, key)
			n++
		}
	}
	return n, nil
}

// recordFailure is a test helper for seeding dead letter entries.
func (r *memoryRepo) recordFailure(webhookEventID uint, reason string) *models.DeadLetterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordFailureLocked(webhookEventID, reason)
}

func (r *memoryRepo) recordFailureLocked(webhookEventID uint, reason string) *models.DeadLetterEntry {
	now := r.now()
	for _, entry := range r.deadLetters {
		if entry.WebhookEventID == webhookEventID {
			entry.FailureReason = reason
			entry.Attempts++
			entry.LastAttemptAt = now
			entry.Resolved = false
			cp := *entry
			return &cp
		}
	}
	r.nextDLQID++
	entry := &models.DeadLetterEntry{
		ID:             r.nextDLQID,
		WebhookEventID: webhookEventID,
		FailureReason:  reason,
		Attempts:       1,
		FirstFailedAt:  now,
		LastAttemptAt:  now,
	}
	r.deadLetters[entry.ID] = entry
	cp := *entry
	return &cp
}

func (r *memoryRepo) GetDeadLetter(entryID uint) (*models.DeadLetterEntry, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.deadLetters[entryID]
	if !ok {
		return nil, nil, gorm.ErrRecordNotFound
	}
	for _, ev := range r.events {
		if ev.ID == entry.WebhookEventID {
			entryCp := *entry
			evCp := *ev
			return &entryCp, &evCp, nil
		}
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) ResolveDeadLetter(entryID uint, res MutationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.deadLetters[entryID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if entry.Resolved {
		return nil
	}
	now := r.now()
	entry.Resolved = true
	entry.ResolvedAt = &now
	entry.LastAttemptAt = now
	for _, ev := range r.events {
		if ev.ID == entry.WebhookEventID && ev.Status == models.WebhookStatusFailed {
			ev.Status = models.WebhookStatusProcessed
			ev.ProcessedAt = &now
			ev.ErrorDetail = res.Note
			ev.ContactID = res.ContactID
			ev.TransactionID = res.TransactionID
			ev.SubscriptionID = res.SubscriptionID
		}
	}
	return nil
}

func (r *memoryRepo) TouchDeadLetterAttempt(entryID uint, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.deadLetters[entryID]
	if !ok || entry.Resolved {
		return nil
	}
	entry.FailureReason = reason
	entry.Attempts++
	entry.LastAttemptAt = r.now()
	return nil
}

func (r *memoryRepo) ListUnresolvedDeadLetters(limit int) ([]models.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []models.DeadLetterEntry
	for _, entry := range r.deadLetters {
		if !entry.Resolved {
			entries = append(entries, *entry)
		}
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (r *memoryRepo) UnresolvedDeadLettersOlderThan(cutoff time.Time) ([]models.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []models.DeadLetterEntry
	for _, entry := range r.deadLetters {
		if !entry.Resolved && entry.FirstFailedAt.Before(cutoff) {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (r *memoryRepo) CountEventsByStatus() (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, ev := range r.events {
		counts[ev.Status]++
	}
	return counts, nil
}

func (r *memoryRepo) RecentFailedEvents(since time.Time, limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []models.WebhookEvent
	for _, ev := range r.events {
		if ev.Status == models.WebhookStatusFailed && !ev.ReceivedAt.Before(since) {
			events = append(events, *ev)
		}
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r *memoryRepo) DeadLetterBacklog() (int64, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	var oldest *time.Time
	for _, entry := range r.deadLetters {
		if entry.Resolved {
			continue
		}
		count++
		t := entry.FirstFailedAt
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
	}
	return count, oldest, nil
}

// eventCount is a test helper.
func (r *memoryRepo) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// recordingSignals counts signals per kind for assertions.
type recordingSignals struct {
	mu                 sync.Mutex
	authFailures       int
	replaysBlocked     int
	throttled          int
	fingerprintFlagged int
}

func (s *recordingSignals) AuthFailure(string) {
	s.mu.Lock()
	s.authFailures++
	s.mu.Unlock()
}

func (s *recordingSignals) ReplayBlocked(string) {
	s.mu.Lock()
	s.replaysBlocked++
	s.mu.Unlock()
}

func (s *recordingSignals) Throttled(string) {
	s.mu.Lock()
	s.throttled++
	s.mu.Unlock()
}

func (s *recordingSignals) FingerprintFlagged(string) {
	s.mu.Lock()
	s.fingerprintFlagged++
	s.mu.Unlock()
}

var _ Repository = (*memoryRepo)(nil)
var _ SecuritySignals = (*recordingSignals)(nil)

// staticResolver builds a resolver from a fixed mutation func.
func staticResolver(mutate MutationFunc) MutationResolver {
	return func(source, eventType string, rawPayload []byte) (MutationFunc, bool) {
		if mutate == nil {
			return nil, false
		}
		return mutate, true
	}
}

func testEnvelope(source, eventID, eventType string) Envelope {
	return Envelope{
		Source:          source,
		ProviderEventID: eventID,
		EventType:       eventType,
		Timestamp:       time.Now().Unix(),
		Nonce:           fmt.Sprintf("nonce-%s-%s-%d", source, eventID, time.Now().UnixNano()),
		Signature:       "unused-in-processor-tests",
	}
}

package webhook

import (
	"errors"
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the processor, the dead
// letter queue, monitoring and the maintenance jobs. All four owned tables
// are mutated exclusively through this interface.
type Repository interface {
	// Idempotency ledger
	FindEvent(source, providerEventID string) (*models.WebhookEvent, error)
	FindProcessedByPayloadHash(source, eventType, payloadHash, excludeProviderEventID string, since time.Time) (*models.WebhookEvent, error)
	ClaimEvent(event *models.WebhookEvent) (claimed bool, existing *models.WebhookEvent, err error)
	MarkEventProcessing(id uint) error
	MarkEventProcessed(id uint, res MutationResult) error
	MarkEventFailedWithDeadLetter(id uint, reason string) (*models.DeadLetterEntry, error)
	SweepStaleProcessing(olderThan time.Time) (int64, error)
	PurgeOldEvents(olderThan time.Time, batchSize int) (int64, error)

	// Nonce ledger
	RecordNonce(source, nonce string) (alreadyUsed bool, err error)
	PurgeExpiredNonces(olderThan time.Time, batchSize int) (int64, error)

	// Rate limiter
	CheckoutBucket(source, bucketKey string, costMilli int64, cfg BucketConfig) (allowed bool, remainingMilli int64, err error)
	CleanupStaleBuckets(now time.Time) (int64, error)

	// Dead letter queue
	GetDeadLetter(entryID uint) (*models.DeadLetterEntry, *models.WebhookEvent, error)
	ResolveDeadLetter(entryID uint, res MutationResult) error
	TouchDeadLetterAttempt(entryID uint, reason string) error
	ListUnresolvedDeadLetters(limit int) ([]models.DeadLetterEntry, error)
	UnresolvedDeadLettersOlderThan(cutoff time.Time) ([]models.DeadLetterEntry, error)

	// Monitoring (read-only)
	CountEventsByStatus() (map[string]int64, error)
	RecentFailedEvents(since time.Time, limit int) ([]models.WebhookEvent, error)
	DeadLetterBacklog() (count int64, oldestUnresolved *time.Time, err error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a webhook repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindEvent(source, providerEventID string) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := r.db.Where("source = ? AND provider_event_id = ?", source, providerEventID).First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) FindProcessedByPayloadHash(source, eventType, payloadHash, excludeProviderEventID string, since time.Time) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := r.db.
		Where("source = ? AND event_type = ? AND payload_hash = ? AND provider_event_id <> ? AND status = ? AND received_at >= ?",
			source, eventType, payloadHash, excludeProviderEventID, models.WebhookStatusProcessed, since).
		First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ClaimEvent inserts the row if the (source, provider_event_id) pair is
// unseen. Exactly one concurrent writer wins the unique index; losers get
// the pre-existing row back instead of an error.
func (r *gormRepository) ClaimEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, event, nil
	}

	var stored models.WebhookEvent
	if err := r.db.Where("source = ? AND provider_event_id = ?", event.Source, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return false, &stored, nil
}

// MarkEventProcessing moves a freshly claimed row into processing. The
// status guard makes the transition single-shot.
func (r *gormRepository) MarkEventProcessing(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", id, models.WebhookStatusReceived).
		Update("status", models.WebhookStatusProcessing).Error
}

func (r *gormRepository) MarkEventProcessed(id uint, res MutationResult) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.WebhookStatusProcessed,
		"processed_at": &now,
		"error_detail": res.Note,
	}
	if res.ContactID != nil {
		updates["contact_id"] = *res.ContactID
	}
	if res.TransactionID != nil {
		updates["transaction_id"] = *res.TransactionID
	}
	if res.SubscriptionID != nil {
		updates["subscription_id"] = *res.SubscriptionID
	}
	// Guard the state machine: only processing and failed rows may become
	// processed, and only once.
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status IN ?", id, []string{models.WebhookStatusProcessing, models.WebhookStatusFailed}).
		Updates(updates).Error
}

// MarkEventFailedWithDeadLetter records the failure and its dead letter
// entry in one transaction, so a crash between the two writes cannot leave
// a failed event without a recovery path.
func (r *gormRepository) MarkEventFailedWithDeadLetter(id uint, reason string) (*models.DeadLetterEntry, error) {
	var stored models.DeadLetterEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.WebhookEvent{}).
			Where("id = ? AND status = ?", id, models.WebhookStatusProcessing).
			Updates(map[string]interface{}{
				"status":       models.WebhookStatusFailed,
				"error_detail": reason,
			}).Error; err != nil {
			return err
		}
		if err := upsertDeadLetter(tx, id, reason); err != nil {
			return err
		}
		return tx.Where("webhook_event_id = ?", id).First(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// SweepStaleProcessing dead-letters rows stuck in a non-terminal state past
// the cutoff (a crash between claim and commit). The stored payload stays
// recoverable through the normal reprocessing path.
func (r *gormRepository) SweepStaleProcessing(olderThan time.Time) (int64, error) {
	var swept int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var stale []models.WebhookEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status IN ? AND received_at < ?",
				[]string{models.WebhookStatusReceived, models.WebhookStatusProcessing}, olderThan).
			Find(&stale).Error; err != nil {
			return err
		}
		for _, ev := range stale {
			if err := tx.Model(&models.WebhookEvent{}).
				Where("id = ?", ev.ID).
				Updates(map[string]interface{}{
					"status":       models.WebhookStatusFailed,
					"error_detail": "processing timed out",
				}).Error; err != nil {
				return err
			}
			if err := upsertDeadLetter(tx, ev.ID, "processing timed out"); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept, err
}

func (r *gormRepository) PurgeOldEvents(olderThan time.Time, batchSize int) (int64, error) {
	return r.batchedDelete(&models.WebhookEvent{}, "received_at < ?", olderThan, batchSize)
}

// RecordNonce atomically inserts if absent. RowsAffected == 0 means the
// (source, nonce) pair was already used and the request is a replay.
func (r *gormRepository) RecordNonce(source, nonce string) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "nonce"},
		},
		DoNothing: true,
	}).Create(&models.WebhookNonce{Source: source, Nonce: nonce})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 0, nil
}

func (r *gormRepository) PurgeExpiredNonces(olderThan time.Time, batchSize int) (int64, error) {
	return r.batchedDelete(&models.WebhookNonce{}, "created_at < ?", olderThan, batchSize)
}

// CheckoutBucket refills and deducts in one transaction holding a row lock,
// so concurrent callers never lose a refill or a decrement. The bucket is
// created lazily at full capacity on first use.
func (r *gormRepository) CheckoutBucket(source, bucketKey string, costMilli int64, cfg BucketConfig) (bool, int64, error) {
	var allowed bool
	var remaining int64

	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		var bucket models.RateLimitBucket
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("source = ? AND bucket_key = ?", source, bucketKey).
			First(&bucket).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bucket = models.RateLimitBucket{
				Source:            source,
				BucketKey:         bucketKey,
				TokensMilli:       cfg.CapacityMilli,
				CapacityMilli:     cfg.CapacityMilli,
				RefillMilliPerSec: cfg.RefillMilliPerSec,
				LastRefillAt:      now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "source"},
					{Name: "bucket_key"},
				},
				DoNothing: true,
			}).Create(&bucket).Error; err != nil {
				return err
			}
			// A concurrent creator may have won; re-read under the lock.
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("source = ? AND bucket_key = ?", source, bucketKey).
				First(&bucket).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		tokens := refillTokens(bucket.TokensMilli, bucket.CapacityMilli, bucket.RefillMilliPerSec, now.Sub(bucket.LastRefillAt))
		if tokens >= costMilli {
			allowed = true
			tokens -= costMilli
		}
		remaining = tokens

		return tx.Model(&models.RateLimitBucket{}).
			Where("id = ?", bucket.ID).
			Updates(map[string]interface{}{
				"tokens_milli":   tokens,
				"last_refill_at": now,
			}).Error
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, remaining, nil
}

// CleanupStaleBuckets removes buckets idle for at least capacity/refill
// seconds; by then they are back at full capacity and carry no information.
func (r *gormRepository) CleanupStaleBuckets(now time.Time) (int64, error) {
	tx := r.db.
		Where("refill_milli_per_sec > 0 AND last_refill_at < DATE_SUB(?, INTERVAL capacity_milli / refill_milli_per_sec SECOND)", now).
		Delete(&models.RateLimitBucket{})
	return tx.RowsAffected, tx.Error
}

// upsertDeadLetter creates the dead letter entry for an event, or bumps
// the attempts counter when the event already has one.
func upsertDeadLetter(tx *gorm.DB, webhookEventID uint, reason string) error {
	now := time.Now()
	entry := &models.DeadLetterEntry{
		WebhookEventID: webhookEventID,
		FailureReason:  reason,
		Attempts:       1,
		FirstFailedAt:  now,
		LastAttemptAt:  now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "webhook_event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"failure_reason":  reason,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
			"resolved":        false,
		}),
	}).Create(entry).Error
}

func (r *gormRepository) GetDeadLetter(entryID uint) (*models.DeadLetterEntry, *models.WebhookEvent, error) {
	var entry models.DeadLetterEntry
	if err := r.db.First(&entry, entryID).Error; err != nil {
		return nil, nil, err
	}
	var ev models.WebhookEvent
	if err := r.db.First(&ev, entry.WebhookEventID).Error; err != nil {
		return nil, nil, err
	}
	return &entry, &ev, nil
}

// ResolveDeadLetter flips the entry to resolved and the original event to
// processed in one transaction, so a crash between the two writes cannot
// leave a resolved entry pointing at a failed event.
func (r *gormRepository) ResolveDeadLetter(entryID uint, res MutationResult) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var entry models.DeadLetterEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, entryID).Error; err != nil {
			return err
		}
		if entry.Resolved {
			return nil
		}

		now := time.Now()
		if err := tx.Model(&models.DeadLetterEntry{}).
			Where("id = ?", entryID).
			Updates(map[string]interface{}{
				"resolved":        true,
				"resolved_at":     &now,
				"last_attempt_at": now,
			}).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":       models.WebhookStatusProcessed,
			"processed_at": &now,
			"error_detail": res.Note,
		}
		if res.ContactID != nil {
			updates["contact_id"] = *res.ContactID
		}
		if res.TransactionID != nil {
			updates["transaction_id"] = *res.TransactionID
		}
		if res.SubscriptionID != nil {
			updates["subscription_id"] = *res.SubscriptionID
		}
		return tx.Model(&models.WebhookEvent{}).
			Where("id = ? AND status = ?", entry.WebhookEventID, models.WebhookStatusFailed).
			Updates(updates).Error
	})
}

func (r *gormRepository) TouchDeadLetterAttempt(entryID uint, reason string) error {
	return r.db.Model(&models.DeadLetterEntry{}).
		Where("id = ? AND resolved = ?", entryID, false).
		Updates(map[string]interface{}{
			"failure_reason":  reason,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": time.Now(),
		}).Error
}

func (r *gormRepository) ListUnresolvedDeadLetters(limit int) ([]models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry
	err := r.db.Where("resolved = ?", false).
		Order("first_failed_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) UnresolvedDeadLettersOlderThan(cutoff time.Time) ([]models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry
	err := r.db.Where("resolved = ? AND first_failed_at < ?", false, cutoff).
		Order("first_failed_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) CountEventsByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Count
	}
	return counts, nil
}

func (r *gormRepository) RecentFailedEvents(since time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("status = ? AND received_at >= ?", models.WebhookStatusFailed, since).
		Order("received_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) DeadLetterBacklog() (int64, *time.Time, error) {
	var count int64
	if err := r.db.Model(&models.DeadLetterEntry{}).Where("resolved = ?", false).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var oldest models.DeadLetterEntry
	if err := r.db.Where("resolved = ?", false).Order("first_failed_at ASC").First(&oldest).Error; err != nil {
		return count, nil, err
	}
	return count, &oldest.FirstFailedAt, nil
}

// batchedDelete issues bounded LIMIT deletes in a loop so maintenance never
// holds locks long enough to interfere with live traffic.
func (r *gormRepository) batchedDelete(model interface{}, cond string, arg interface{}, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		tx := r.db.Where(cond, arg).Limit(batchSize).Delete(model)
		if tx.Error != nil {
			return total, tx.Error
		}
		total += tx.RowsAffected
		if tx.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultFingerprintWindow bounds how far back the payload-hash duplicate
// check looks. Outside the window a hash match is treated as coincidence.
const DefaultFingerprintWindow = 24 * time.Hour

// Processor is the single entry point for inbound events. It sequences the
// admission checks (nonce, idempotency, fingerprint, rate limit), invokes
// the business mutation at most once per (source, provider_event_id), and
// commits the outcome to the ledger.
type Processor struct {
	repo              Repository
	resolve           MutationResolver
	signals           SecuritySignals
	skew              time.Duration
	fingerprintWindow time.Duration
	limits            func(source string) BucketConfig
}

// NewProcessor creates a processor with default skew and fingerprint
// windows and env-driven rate limit configuration.
func NewProcessor(repo Repository, resolve MutationResolver, signals SecuritySignals) *Processor {
	if signals == nil {
		signals = NopSignals{}
	}
	return &Processor{
		repo:              repo,
		resolve:           resolve,
		signals:           signals,
		skew:              DefaultReplaySkew,
		fingerprintWindow: DefaultFingerprintWindow,
		limits:            ConfigForSource,
	}
}

// NewProcessorFromDB wires a processor to a GORM-backed repository.
func NewProcessorFromDB(db *gorm.DB, resolve MutationResolver, signals SecuritySignals) *Processor {
	return NewProcessor(NewRepository(db), resolve, signals)
}

// Ingest runs the full admission sequence for a signature-verified request:
// timestamp skew, nonce, then the idempotent processing pipeline. Rejected
// and throttled requests leave no ledger row.
func (p *Processor) Ingest(ctx context.Context, env Envelope, rawBody []byte) (Outcome, *models.WebhookEvent, error) {
	declared := time.Unix(env.Timestamp, 0)
	if IsReplayAttack(declared, time.Now(), p.skew) {
		p.signals.ReplayBlocked(env.Source)
		log.Warnf("[Webhook] replay rejected: stale timestamp source=%s event=%s", env.Source, env.ProviderEventID)
		return OutcomeRejected, nil, nil
	}

	alreadyUsed, err := p.repo.RecordNonce(env.Source, env.Nonce)
	if err != nil {
		return OutcomeRejected, nil, err
	}
	if alreadyUsed {
		p.signals.ReplayBlocked(env.Source)
		log.Warnf("[Webhook] replay rejected: nonce reuse source=%s event=%s", env.Source, env.ProviderEventID)
		return OutcomeRejected, nil, nil
	}

	return p.Process(ctx, env, rawBody)
}

// Process decides whether the event is new, a duplicate, or throttled, and
// executes the business mutation exactly once for new events. The unique
// (source, provider_event_id) index guarantees at most one mutation under
// any concurrent interleaving: a losing writer observes the pre-existing
// row and reports duplicate.
func (p *Processor) Process(ctx context.Context, env Envelope, rawBody []byte) (Outcome, *models.WebhookEvent, error) {
	payloadHash := FingerprintPayload(rawBody)

	// Fast duplicate path: no token is spent on a retry of a known id.
	existing, err := p.repo.FindEvent(env.Source, env.ProviderEventID)
	if err == nil {
		return OutcomeDuplicate, existing, nil
	}
	if !isNotFound(err) {
		return OutcomeRejected, nil, err
	}

	// Fingerprint check: corroborating signal only. A hash match counts as
	// a duplicate only for the same source and event type inside the
	// window; the new id is still ledgered and flagged for manual review.
	since := time.Now().Add(-p.fingerprintWindow)
	prior, err := p.repo.FindProcessedByPayloadHash(env.Source, env.EventType, payloadHash, env.ProviderEventID, since)
	if err == nil {
		p.signals.FingerprintFlagged(env.Source)
		log.Warnf("[Webhook] fingerprint duplicate: source=%s event=%s matches %s, flagged for review",
			env.Source, env.ProviderEventID, prior.PublicID)
		dup := p.newEvent(env, payloadHash, rawBody, models.WebhookStatusDuplicate)
		dup.ErrorDetail = fmt.Sprintf("payload fingerprint matches processed event %s", prior.PublicID)
		if _, stored, err := p.repo.ClaimEvent(dup); err == nil {
			return OutcomeDuplicate, stored, nil
		}
		return OutcomeDuplicate, prior, nil
	}
	if !isNotFound(err) {
		return OutcomeRejected, nil, err
	}

	// Admission, not an error: a denied checkout writes nothing.
	allowed, _, err := p.repo.CheckoutBucket(env.Source, IngestBucketKey, UnitCostMilli, p.limits(env.Source))
	if err != nil {
		return OutcomeRejected, nil, err
	}
	if !allowed {
		p.signals.Throttled(env.Source)
		return OutcomeThrottled, nil, nil
	}

	claimed, event, err := p.repo.ClaimEvent(p.newEvent(env, payloadHash, rawBody, models.WebhookStatusReceived))
	if err != nil {
		return OutcomeRejected, nil, err
	}
	if !claimed {
		// Lost the insert race; the winner runs the mutation.
		return OutcomeDuplicate, event, nil
	}

	return p.runMutation(ctx, event)
}

// runMutation executes the registered handler exactly once and commits the
// outcome. A handler failure lands the event in the dead letter queue; the
// response still signals accepted so the sender does not retry transport.
func (p *Processor) runMutation(ctx context.Context, event *models.WebhookEvent) (Outcome, *models.WebhookEvent, error) {
	if err := p.repo.MarkEventProcessing(event.ID); err != nil {
		return OutcomeRejected, nil, err
	}
	event.Status = models.WebhookStatusProcessing

	mutate, ok := p.resolve(event.Source, event.EventType, []byte(event.RawPayload))
	if !ok {
		res := MutationResult{Note: "no handler registered for event type"}
		if err := p.repo.MarkEventProcessed(event.ID, res); err != nil {
			return OutcomeRejected, nil, err
		}
		log.Infof("[Webhook] ignored: no handler for source=%s type=%s", event.Source, event.EventType)
		return OutcomeAccepted, event, nil
	}

	res, mutErr := mutate(ctx)
	if mutErr != nil {
		// Failed status and the dead letter entry commit together or not
		// at all; a failed row without a recovery path must not exist.
		if _, err := p.repo.MarkEventFailedWithDeadLetter(event.ID, mutErr.Error()); err != nil {
			return OutcomeRejected, nil, err
		}
		log.Errorf("[Webhook] mutation failed, dead-lettered: source=%s event=%s: %v",
			event.Source, event.ProviderEventID, mutErr)
		return OutcomeAccepted, event, nil
	}

	if err := p.repo.MarkEventProcessed(event.ID, res); err != nil {
		return OutcomeRejected, nil, err
	}
	return OutcomeAccepted, event, nil
}

func (p *Processor) newEvent(env Envelope, payloadHash string, rawBody []byte, status string) *models.WebhookEvent {
	return &models.WebhookEvent{
		PublicID:        uuid.NewString(),
		Source:          env.Source,
		ProviderEventID: env.ProviderEventID,
		EventType:       env.EventType,
		PayloadHash:     payloadHash,
		RawPayload:      string(rawBody),
		Status:          status,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

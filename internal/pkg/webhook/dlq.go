package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/FelixBrandt/hookgate/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// ErrAlreadyResolved is returned when a reprocessing attempt targets an
// entry that succeeded earlier.
var ErrAlreadyResolved = errors.New("dead letter entry already resolved")

// ReprocessDeadLetter re-invokes the business mutation for a dead-lettered
// event using the stored raw payload. Success resolves the entry and flips
// the original event to processed; failure bumps the attempts counter and
// returns the handler error.
func (p *Processor) ReprocessDeadLetter(ctx context.Context, entryID uint) error {
	entry, event, err := p.repo.GetDeadLetter(entryID)
	if err != nil {
		return err
	}
	if entry.Resolved {
		return ErrAlreadyResolved
	}
	if event.Status != models.WebhookStatusFailed {
		return fmt.Errorf("event %s is %s, not failed", event.PublicID, event.Status)
	}

	mutate, ok := p.resolve(event.Source, event.EventType, []byte(event.RawPayload))
	if !ok {
		return fmt.Errorf("no handler registered for source=%s type=%s", event.Source, event.EventType)
	}

	res, mutErr := mutate(ctx)
	if mutErr != nil {
		if err := p.repo.TouchDeadLetterAttempt(entryID, mutErr.Error()); err != nil {
			return err
		}
		log.Warnf("[DLQ] reprocess attempt failed: entry=%d event=%s: %v", entryID, event.PublicID, mutErr)
		return mutErr
	}

	if err := p.repo.ResolveDeadLetter(entryID, res); err != nil {
		return err
	}
	log.Infof("[DLQ] entry %d resolved, event %s processed", entryID, event.PublicID)
	return nil
}

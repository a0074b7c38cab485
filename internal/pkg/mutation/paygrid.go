package mutation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"gorm.io/gorm"
)

// paygridPayload is the payment processor's event body.
type paygridPayload struct {
	Customer struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customer"`
	Payment struct {
		ID          string `json:"id"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
		OccurredAt  int64  `json:"occurred_at"`
	} `json:"payment"`
}

func (r *Registry) handlePaygridPayment(ctx context.Context, ev Event) (webhook.MutationResult, error) {
	return r.paygridTransaction(ctx, ev, models.TransactionKindPayment)
}

func (r *Registry) handlePaygridRefund(ctx context.Context, ev Event) (webhook.MutationResult, error) {
	return r.paygridTransaction(ctx, ev, models.TransactionKindRefund)
}

func (r *Registry) paygridTransaction(_ context.Context, ev Event, kind string) (webhook.MutationResult, error) {
	var p paygridPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return webhook.MutationResult{}, Failuref("invalid_payload", "paygrid payload: %v", err)
	}
	if strings.TrimSpace(p.Customer.Email) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "paygrid payload has no customer email")
	}
	if strings.TrimSpace(p.Payment.ID) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "paygrid payload has no payment id")
	}

	var res webhook.MutationResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		contact, err := upsertContact(tx, ev.Source, p.Customer.Email, p.Customer.FirstName, p.Customer.LastName, p.Customer.ID)
		if err != nil {
			return err
		}

		occurred := time.Now()
		if p.Payment.OccurredAt > 0 {
			occurred = time.Unix(p.Payment.OccurredAt, 0)
		}
		currency := strings.ToUpper(strings.TrimSpace(p.Payment.Currency))
		if currency == "" {
			currency = "EUR"
		}

		txn, err := createTransactionOnce(tx, &models.Transaction{
			ContactID:   contact.ID,
			Source:      ev.Source,
			ProviderRef: p.Payment.ID,
			Kind:        kind,
			AmountCents: p.Payment.AmountCents,
			Currency:    currency,
			OccurredAt:  occurred,
		})
		if err != nil {
			return err
		}

		res.ContactID = &contact.ID
		res.TransactionID = &txn.ID
		return nil
	})
	if err != nil {
		if _, ok := err.(*Failure); ok {
			return webhook.MutationResult{}, err
		}
		return webhook.MutationResult{}, Failuref("db_error", "paygrid %s: %v", kind, err)
	}
	return res, nil
}

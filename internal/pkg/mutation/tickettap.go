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

// tickettapPayload is the ticketing platform's event body.
type tickettapPayload struct {
	Buyer struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"buyer"`
	Order struct {
		ID          string `json:"id"`
		TotalCents  int64  `json:"total_cents"`
		Currency    string `json:"currency"`
		PurchasedAt int64  `json:"purchased_at"`
	} `json:"order"`
}

func (r *Registry) handleTickettapPurchase(_ context.Context, ev Event) (webhook.MutationResult, error) {
	var p tickettapPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return webhook.MutationResult{}, Failuref("invalid_payload", "tickettap payload: %v", err)
	}
	if strings.TrimSpace(p.Buyer.Email) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "tickettap payload has no buyer email")
	}
	if strings.TrimSpace(p.Order.ID) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "tickettap payload has no order id")
	}

	var res webhook.MutationResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		contact, err := upsertContact(tx, ev.Source, p.Buyer.Email, p.Buyer.FirstName, p.Buyer.LastName, "")
		if err != nil {
			return err
		}

		purchased := time.Now()
		if p.Order.PurchasedAt > 0 {
			purchased = time.Unix(p.Order.PurchasedAt, 0)
		}
		currency := strings.ToUpper(strings.TrimSpace(p.Order.Currency))
		if currency == "" {
			currency = "EUR"
		}

		txn, err := createTransactionOnce(tx, &models.Transaction{
			ContactID:   contact.ID,
			Source:      ev.Source,
			ProviderRef: p.Order.ID,
			Kind:        models.TransactionKindTicket,
			AmountCents: p.Order.TotalCents,
			Currency:    currency,
			OccurredAt:  purchased,
		})
		if err != nil {
			return err
		}

		res.ContactID = &contact.ID
		res.TransactionID = &txn.ID
		return nil
	})
	if err != nil {
		return webhook.MutationResult{}, Failuref("db_error", "tickettap purchase: %v", err)
	}
	return res, nil
}

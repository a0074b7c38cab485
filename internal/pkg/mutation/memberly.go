package mutation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/FelixBrandt/hookgate/app/models"
	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// memberlyPayload is the membership platform's event body.
type memberlyPayload struct {
	Member struct {
		ID               string `json:"id"`
		Email            string `json:"email"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		Plan             string `json:"plan"`
		Status           string `json:"status"`
		CurrentPeriodEnd int64  `json:"current_period_end"`
	} `json:"member"`
}

func (r *Registry) handleMemberlyMember(_ context.Context, ev Event) (webhook.MutationResult, error) {
	var p memberlyPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return webhook.MutationResult{}, Failuref("invalid_payload", "memberly payload: %v", err)
	}
	if strings.TrimSpace(p.Member.Email) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "memberly payload has no member email")
	}
	if strings.TrimSpace(p.Member.ID) == "" {
		return webhook.MutationResult{}, Failuref("missing_field", "memberly payload has no member id")
	}

	var res webhook.MutationResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		contact, err := upsertContact(tx, ev.Source, p.Member.Email, p.Member.FirstName, p.Member.LastName, p.Member.ID)
		if err != nil {
			return err
		}

		sub := &models.Subscription{
			ContactID:   contact.ID,
			Source:      ev.Source,
			ProviderRef: p.Member.ID,
			Plan:        normalizePlan(p.Member.Plan),
			Status:      normalizeStatus(p.Member.Status),
		}
		if p.Member.CurrentPeriodEnd > 0 {
			end := time.Unix(p.Member.CurrentPeriodEnd, 0)
			sub.CurrentPeriodEnd = &end
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source"},
				{Name: "provider_ref"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"contact_id",
				"plan",
				"status",
				"current_period_end",
				"updated_at",
			}),
		}).Create(sub).Error; err != nil {
			return err
		}
		if err := tx.Where("source = ? AND provider_ref = ?", sub.Source, sub.ProviderRef).First(sub).Error; err != nil {
			return err
		}

		res.ContactID = &contact.ID
		res.SubscriptionID = &sub.ID
		return nil
	})
	if err != nil {
		return webhook.MutationResult{}, Failuref("db_error", "memberly member sync: %v", err)
	}
	return res, nil
}

func normalizePlan(plan string) string {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		return "free"
	}
	return plan
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "":
		return models.SubscriptionStatusActive
	case "past_due", "declined":
		return models.SubscriptionStatusPastDue
	default:
		return models.SubscriptionStatusCanceled
	}
}

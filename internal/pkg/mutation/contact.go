package mutation

import (
	"strings"

	"github.com/FelixBrandt/hookgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertContact creates or updates a contact by email inside the caller's
// transaction. Email is the natural key across sources; name fields only
// overwrite when the payload actually carries them.
func upsertContact(tx *gorm.DB, source, email, firstName, lastName, externalRef string) (*models.Contact, error) {
	contact := &models.Contact{
		Email:       strings.ToLower(strings.TrimSpace(email)),
		FirstName:   strings.TrimSpace(firstName),
		LastName:    strings.TrimSpace(lastName),
		ExternalRef: strings.TrimSpace(externalRef),
		Source:      source,
	}

	assignments := []string{"updated_at"}
	if contact.FirstName != "" {
		assignments = append(assignments, "first_name")
	}
	if contact.LastName != "" {
		assignments = append(assignments, "last_name")
	}
	if contact.ExternalRef != "" {
		assignments = append(assignments, "external_ref")
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns(assignments),
	}).Create(contact).Error; err != nil {
		return nil, err
	}

	// Ensure ID is populated after upsert.
	if err := tx.Where("email = ?", contact.Email).First(contact).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

// createTransactionOnce inserts a transaction keyed by (source, provider
// ref); a re-run of the same handler fetches the existing row instead of
// double-booking.
func createTransactionOnce(tx *gorm.DB, txn *models.Transaction) (*models.Transaction, error) {
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "provider_ref"},
		},
		DoNothing: true,
	}).Create(txn).Error; err != nil {
		return nil, err
	}

	if err := tx.Where("source = ? AND provider_ref = ?", txn.Source, txn.ProviderRef).First(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

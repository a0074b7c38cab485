package webhook

import "context"

// Outcome is the ingestion verdict returned to the sender.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeThrottled Outcome = "throttled"
)

// Envelope is the normalized inbound notification, assembled from request
// headers before any state is touched.
type Envelope struct {
	Source          string `validate:"required,max=20"`
	ProviderEventID string `validate:"required,max=191"`
	EventType       string `validate:"required,max=100"`
	Timestamp       int64  `validate:"required"`
	Nonce           string `validate:"required,max=191"`
	Signature       string `validate:"required"`
}

// MutationResult carries the identifiers of records a business mutation
// created or updated, for traceability on the ledger row.
type MutationResult struct {
	ContactID      *uint
	TransactionID  *uint
	SubscriptionID *uint
	Note           string
}

// MutationFunc executes one business mutation. It either succeeds with the
// affected record identifiers or returns an error; the processor never
// retries it internally, failures go to the dead letter queue.
type MutationFunc func(ctx context.Context) (MutationResult, error)

// MutationResolver binds a stored payload to the mutation registered for
// (source, event type). The second return is false when no handler is
// registered, in which case the event is ledgered and ignored.
type MutationResolver func(source, eventType string, rawPayload []byte) (MutationFunc, bool)

// SecuritySignals receives operational counters for rejected traffic.
// Implementations must be safe for concurrent use; failures to record a
// signal must never affect the ingestion verdict.
type SecuritySignals interface {
	AuthFailure(source string)
	ReplayBlocked(source string)
	Throttled(source string)
	FingerprintFlagged(source string)
}

// NopSignals discards all signals. Used in tests and as a fallback.
type NopSignals struct{}

func (NopSignals) AuthFailure(string)        {}
func (NopSignals) ReplayBlocked(string)      {}
func (NopSignals) Throttled(string)          {}
func (NopSignals) FingerprintFlagged(string) {}

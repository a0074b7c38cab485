package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FelixBrandt/hookgate/app/models"
	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"gorm.io/gorm"
)

// Event is the uniform input every mutation handler receives.
type Event struct {
	Source    string
	EventType string
	Payload   json.RawMessage
}

// Handler is the one mutation contract all sources conform to: succeed
// with the affected record identifiers, or fail with a reason. Handlers
// own their atomicity and run their writes in their own transaction.
type Handler func(ctx context.Context, ev Event) (webhook.MutationResult, error)

// Failure is a typed processing failure, distinguishing a retryable
// business failure from a programming defect.
type Failure struct {
	Code   string
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

// Failuref builds a Failure with a formatted reason.
func Failuref(code, format string, args ...interface{}) *Failure {
	return &Failure{Code: code, Reason: fmt.Sprintf(format, args...)}
}

type handlerKey struct {
	source    string
	eventType string
}

// Registry maps (source, event type) pairs to handlers. Adding a new
// source is additive: register its handlers, nothing else changes.
type Registry struct {
	db       *gorm.DB
	handlers map[handlerKey]Handler
}

// NewRegistry creates an empty registry bound to a DB handle.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{
		db:       db,
		handlers: make(map[handlerKey]Handler),
	}
}

// Default returns a registry with the handlers for all known sources.
func Default(db *gorm.DB) *Registry {
	r := NewRegistry(db)
	r.Register(models.SourcePaygrid, "payment.completed", r.handlePaygridPayment)
	r.Register(models.SourcePaygrid, "payment.refunded", r.handlePaygridRefund)
	r.Register(models.SourceMemberly, "member.created", r.handleMemberlyMember)
	r.Register(models.SourceMemberly, "member.updated", r.handleMemberlyMember)
	r.Register(models.SourceTickettap, "ticket.purchased", r.handleTickettapPurchase)
	return r
}

// Register binds a handler to a (source, event type) pair.
func (r *Registry) Register(source, eventType string, h Handler) {
	r.handlers[handlerKey{source: source, eventType: eventType}] = h
}

// Resolver adapts the registry to the processor's resolution contract.
func (r *Registry) Resolver() webhook.MutationResolver {
	return func(source, eventType string, rawPayload []byte) (webhook.MutationFunc, bool) {
		h, ok := r.handlers[handlerKey{source: source, eventType: eventType}]
		if !ok {
			return nil, false
		}
		ev := Event{Source: source, EventType: eventType, Payload: rawPayload}
		return func(ctx context.Context) (webhook.MutationResult, error) {
			return h(ctx, ev)
		}, true
	}
}

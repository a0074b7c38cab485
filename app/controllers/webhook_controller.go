package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/database"
	"github.com/FelixBrandt/hookgate/internal/pkg/env"
	"github.com/FelixBrandt/hookgate/internal/pkg/metrics/counter"
	"github.com/FelixBrandt/hookgate/internal/pkg/mutation"
	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var (
	webhookProcessor  *webhook.Processor
	webhookMonitoring *webhook.Monitoring
	webhookSignals    *counter.SecuritySignals
	envelopeValidate  = validator.New()
)

// InitializeWebhookController wires the processor, registry and monitoring
// against the global DB and cache handles. Called once from the router.
func InitializeWebhookController() {
	db := database.GetDB()
	repo := webhook.NewRepository(db)
	registry := mutation.Default(db)
	webhookSignals = counter.NewSecuritySignals()
	webhookProcessor = webhook.NewProcessor(repo, registry.Resolver(), webhookSignals)
	webhookMonitoring = webhook.NewMonitoring(repo, webhookSignals)
}

// HandleWebhookIngest is the single ingestion operation. Signature
// verification runs before anything else; an invalid proof writes no state
// and is never auto-retried by the sender contract.
func HandleWebhookIngest(c *fiber.Ctx) error {
	source := strings.ToLower(strings.TrimSpace(c.Params("source")))
	rawBody := append([]byte(nil), c.BodyRaw()...)

	secret := env.GetEnv("WEBHOOK_SECRET_"+strings.ToUpper(source), "")
	if secret == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_source"})
	}

	envelope := webhook.Envelope{
		Source:          source,
		ProviderEventID: strings.TrimSpace(c.Get("X-Webhook-Event-ID")),
		EventType:       strings.TrimSpace(c.Get("X-Webhook-Event-Type")),
		Nonce:           strings.TrimSpace(c.Get("X-Webhook-Nonce")),
		Signature:       strings.TrimSpace(c.Get("X-Webhook-Signature")),
	}
	if ts, err := strconv.ParseInt(strings.TrimSpace(c.Get("X-Webhook-Timestamp")), 10, 64); err == nil {
		envelope.Timestamp = ts
	}
	if err := envelopeValidate.Struct(envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_envelope", "message": err.Error()})
	}

	if !webhook.VerifySignature(rawBody, envelope.Signature, secret) {
		webhookSignals.AuthFailure(source)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, _, err := webhookProcessor.Ingest(ctx, envelope, rawBody)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest_failed"})
	}

	switch outcome {
	case webhook.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case webhook.OutcomeThrottled:
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "throttled"})
	case webhook.OutcomeRejected:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "replay_rejected"})
	default:
		// Processing failures are absorbed into the DLQ; the sender still
		// gets accepted so it does not retry the transport layer.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

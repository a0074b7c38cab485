package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/FelixBrandt/hookgate/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	healthRecentWindow = 24 * time.Hour
	healthFailureLimit = 20
)

// HandleWebhookHealth serves the read-only operational aggregate for the
// alerting consumer.
func HandleWebhookHealth(c *fiber.Ctx) error {
	summary, err := webhookMonitoring.Summary(healthRecentWindow, healthFailureLimit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "health_query_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

// HandleDeadLetterList lists the oldest unresolved DLQ entries.
func HandleDeadLetterList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	entries, err := webhookMonitoring.DeadLetters(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "dlq_query_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// HandleDeadLetterReprocess re-runs the business mutation for one DLQ
// entry with its stored payload.
func HandleDeadLetterReprocess(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_entry_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := webhookProcessor.ReprocessDeadLetter(ctx, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
		}
		if errors.Is(err, webhook.ErrAlreadyResolved) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "already_resolved": true})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "reprocess_failed", "message": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "resolved": true})
}

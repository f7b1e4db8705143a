package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/env"
	"github.com/quaestor-app/quaestor/internal/pkg/subscription"
)

// WebhookController receives billing processor webhooks. Signature
// verification fails closed and every accepted event is recorded before
// processing so redeliveries become no-ops.
type WebhookController struct {
	events  repository.WebhookEventRepository
	service *subscription.Service
}

// NewWebhookController creates a webhook controller with its dependencies.
func NewWebhookController(events repository.WebhookEventRepository, service *subscription.Service) *WebhookController {
	return &WebhookController{events: events, service: service}
}

// HandleStripeWebhook verifies, deduplicates and processes one Stripe event.
// A processing failure answers 500 so the provider redelivers; the recorded
// event row keeps the failure reason for inspection.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		// No secret means no way to authenticate the caller. Reject rather
		// than accept unverified state changes.
		log.Print("stripe webhook received but STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook verification unavailable"})
	}

	payload := c.Body()
	sig := c.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Signature verification failed"})
	}

	record := &models.WebhookEvent{
		Provider:       models.BillingProviderStripe,
		EventID:        event.ID,
		EventType:      string(event.Type),
		PayloadJSON:    string(payload),
		SignatureValid: true,
	}
	created, stored, err := wc.events.CreateIfNotExists(record)
	if err != nil {
		return internalError(c, "Webhook event recording failed", err)
	}
	// Only a successfully processed event is a terminal duplicate. A stored
	// row without a processed_at stamp is an earlier attempt that failed
	// transiently; the provider's redelivery is our retry, so process it.
	if !created && stored.ProcessedAt != nil {
		return c.JSON(fiber.Map{"received": true, "duplicate": true, "event_id": stored.EventID})
	}

	if err := wc.service.ProcessEvent(c.UserContext(), event); err != nil {
		if markErr := wc.events.MarkFailed(stored.ID, err.Error()); markErr != nil {
			log.Printf("failed to record webhook processing error for event %s: %v", event.ID, markErr)
		}
		return internalError(c, "Webhook event processing failed", err)
	}

	if err := wc.events.MarkProcessed(stored.ID); err != nil {
		log.Printf("failed to mark webhook event %s processed: %v", event.ID, err)
	}

	return c.JSON(fiber.Map{"received": true, "event_id": event.ID, "type": string(event.Type)})
}

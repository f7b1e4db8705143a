package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/adminops"
	"github.com/quaestor-app/quaestor/internal/pkg/subscription"
	"github.com/quaestor-app/quaestor/internal/pkg/usercontext"
)

const reconciliationWindow = 30 * 24 * time.Hour

// AdminController exposes the user-tier lookup/override endpoints, a user
// listing and the webhook replay path. The route group is already gated to
// allow-listed administrators; the override service re-checks the capability
// so the invariant does not depend on middleware ordering.
type AdminController struct {
	overrides     *adminops.Service
	transactions  repository.CreditTransactionRepository
	events        repository.WebhookEventRepository
	subscriptions *subscription.Service
}

// NewAdminController creates an admin controller with its dependencies.
func NewAdminController(overrides *adminops.Service, transactions repository.CreditTransactionRepository, events repository.WebhookEventRepository, subscriptions *subscription.Service) *AdminController {
	return &AdminController{
		overrides:     overrides,
		transactions:  transactions,
		events:        events,
		subscriptions: subscriptions,
	}
}

// parseTargetQuery reads the target user from query parameters. Both userId
// and user_id are accepted; the POST body uses userId.
func parseTargetQuery(c *fiber.Ctx) (uint, string, error) {
	email := c.Query("email")
	raw := c.Query("userId")
	if raw == "" {
		raw = c.Query("user_id")
	}
	var userID uint
	if raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, "", errors.New("userId must be numeric")
		}
		userID = uint(parsed)
	}
	if userID == 0 && email == "" {
		return 0, "", errors.New("userId or email required")
	}
	return userID, email, nil
}

// HandleGetUserTier looks up one user's subscription state plus a ledger
// reconciliation view: entry count and the net recorded change over the
// trailing window, for auditing the balance against its transaction log.
func (ac *AdminController) HandleGetUserTier(c *fiber.Ctx) error {
	userID, email, err := parseTargetQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	snap, err := ac.overrides.Snapshot(c.UserContext(), userID, email)
	if err != nil {
		if errors.Is(err, adminops.ErrTargetNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return internalError(c, "User lookup failed", err)
	}

	entries, err := ac.transactions.CountByUserID(snap.UserID)
	if err != nil {
		return internalError(c, "Ledger count failed", err)
	}
	netChange, err := ac.transactions.SumByUserIDSince(snap.UserID, time.Now().Add(-reconciliationWindow))
	if err != nil {
		return internalError(c, "Ledger reconciliation failed", err)
	}

	return c.JSON(fiber.Map{
		"user": snap,
		"ledger": fiber.Map{
			"entries":        entries,
			"net_change_30d": netChange,
			"window_days":    30,
		},
	})
}

// HandleSetUserTier applies a tier/credit override to a target user.
func (ac *AdminController) HandleSetUserTier(c *fiber.Ctx) error {
	caller := usercontext.GetUserContext(c)

	var req adminops.OverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}

	actor := adminops.Actor{Email: caller.Email, Origin: c.IP()}
	snap, err := ac.overrides.Override(c.UserContext(), actor, req)
	if err != nil {
		switch {
		case errors.Is(err, adminops.ErrNotAdmin):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Administrator access required"})
		case errors.Is(err, adminops.ErrProtectedTarget):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Cannot modify another administrator's account"})
		case errors.Is(err, adminops.ErrTargetNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		case errors.Is(err, adminops.ErrInvalidTier):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid tier or credit values"})
		default:
			return internalError(c, "Tier override failed", err)
		}
	}

	return c.JSON(fiber.Map{"success": true, "user": snap})
}

// HandleListUsers returns a paginated account listing.
func (ac *AdminController) HandleListUsers(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	users, err := ac.overrides.ListUsers(c.UserContext(), offset, limit)
	if err != nil {
		return internalError(c, "User listing failed", err)
	}
	total, err := ac.overrides.CountUsers(c.UserContext())
	if err != nil {
		return internalError(c, "User count failed", err)
	}

	return c.JSON(fiber.Map{
		"users":  users,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

type replayRequest struct {
	EventID string `json:"eventId"`
	Limit   int    `json:"limit"`
}

type replayCandidate struct {
	ID      uint
	EventID string
	Payload string
}

// HandleReplayWebhooks reprocesses stored webhook events that never completed
// processing. With an eventId it replays that one event; otherwise it sweeps
// up to limit unprocessed events. Signatures were verified at ingest, so
// replay dispatches the stored payload directly.
func (ac *AdminController) HandleReplayWebhooks(c *fiber.Ctx) error {
	var req replayRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
		}
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 25
	}

	var pending []replayCandidate
	if req.EventID != "" {
		stored, err := ac.events.GetByProviderEventID(models.BillingProviderStripe, req.EventID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Event not found"})
		}
		if stored.ProcessedAt != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Event already processed"})
		}
		pending = append(pending, replayCandidate{ID: stored.ID, EventID: stored.EventID, Payload: stored.PayloadJSON})
	} else {
		stored, err := ac.events.ListUnprocessed(req.Limit)
		if err != nil {
			return internalError(c, "Unprocessed event listing failed", err)
		}
		for i := range stored {
			pending = append(pending, replayCandidate{ID: stored[i].ID, EventID: stored[i].EventID, Payload: stored[i].PayloadJSON})
		}
	}

	replayed := make([]string, 0, len(pending))
	failed := make([]string, 0)
	for _, p := range pending {
		var event stripe.Event
		if err := json.Unmarshal([]byte(p.Payload), &event); err != nil {
			log.Printf("webhook replay: stored payload for event %s is unreadable: %v", p.EventID, err)
			failed = append(failed, p.EventID)
			continue
		}
		if err := ac.subscriptions.ProcessEvent(c.UserContext(), event); err != nil {
			log.Printf("webhook replay: event %s failed again: %v", p.EventID, err)
			if markErr := ac.events.MarkFailed(p.ID, err.Error()); markErr != nil {
				log.Printf("webhook replay: failed to record error for event %s: %v", p.EventID, markErr)
			}
			failed = append(failed, p.EventID)
			continue
		}
		if err := ac.events.MarkProcessed(p.ID); err != nil {
			log.Printf("webhook replay: failed to mark event %s processed: %v", p.EventID, err)
		}
		replayed = append(replayed, p.EventID)
	}

	return c.JSON(fiber.Map{"replayed": replayed, "failed": failed})
}

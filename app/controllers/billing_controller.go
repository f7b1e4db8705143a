package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/quaestor-app/quaestor/internal/pkg/subscription"
	"github.com/quaestor-app/quaestor/internal/pkg/usercontext"
)

// BillingController handles credit consumption, checkout creation and the
// caller's own billing view.
type BillingController struct {
	repos  *repository.Repositories
	ledger *credits.Ledger
	stripe *subscription.StripeClient
}

// NewBillingController creates a billing controller with its dependencies.
func NewBillingController(repos *repository.Repositories, ledger *credits.Ledger, stripe *subscription.StripeClient) *BillingController {
	return &BillingController{repos: repos, ledger: ledger, stripe: stripe}
}

type deductRequest struct {
	Action      string `json:"action" validate:"required"`
	Description string `json:"description" validate:"max=255"`
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=scholar institute"`
}

type creditCheckoutRequest struct {
	Credits int64 `json:"credits" validate:"required,gt=0,lte=10000"`
}

// HandleDeduct charges the caller for one billable action. An unaffordable
// action answers 402 with the shortfall; it is not a server error.
func (bc *BillingController) HandleDeduct(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)

	var req deductRequest
	if !parseAndValidate(c, &req) {
		return nil
	}

	cost, txType, ok := credits.ActionCost(req.Action)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown action"})
	}

	desc := req.Description
	if desc == "" {
		desc = req.Action
	}
	outcome, err := bc.ledger.Deduct(c.UserContext(), user.UserID, cost, txType, desc)
	if err != nil {
		return internalError(c, "Credit deduction failed", err)
	}
	if !outcome.Applied {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     "insufficient_credits",
			"required":  cost,
			"available": outcome.Remaining,
		})
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"creditsDeducted":  outcome.Deducted,
		"remainingCredits": outcome.Remaining,
	})
}

// HandleSubscriptionCheckout opens a subscription checkout session for the
// requested tier and returns the redirect URL.
func (bc *BillingController) HandleSubscriptionCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if !parseAndValidate(c, &req) {
		return nil
	}

	user, err := bc.repos.User.GetByID(userCtx.UserID)
	if err != nil {
		return internalError(c, "User lookup failed", err)
	}

	customerID, err := bc.ensureCustomer(c, user)
	if err != nil {
		return internalError(c, "Customer setup failed", err)
	}

	url, err := bc.stripe.NewSubscriptionCheckout(c.UserContext(), customerID, req.Plan)
	if err != nil {
		return internalError(c, "Checkout session creation failed", err)
	}

	return c.JSON(fiber.Map{"url": url})
}

// HandleCreditCheckout opens a one-time-payment checkout for a bonus credit
// pack. The grant itself lands later through the webhook.
func (bc *BillingController) HandleCreditCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req creditCheckoutRequest
	if !parseAndValidate(c, &req) {
		return nil
	}

	user, err := bc.repos.User.GetByID(userCtx.UserID)
	if err != nil {
		return internalError(c, "User lookup failed", err)
	}

	customerID, err := bc.ensureCustomer(c, user)
	if err != nil {
		return internalError(c, "Customer setup failed", err)
	}

	url, err := bc.stripe.NewCreditCheckout(c.UserContext(), customerID, user.ID, req.Credits)
	if err != nil {
		return internalError(c, "Credit checkout session creation failed", err)
	}

	return c.JSON(fiber.Map{"url": url})
}

// HandleMe returns the caller's subscription state, balances and the most
// recent ledger entries.
func (bc *BillingController) HandleMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := bc.repos.User.GetByID(userCtx.UserID)
	if err != nil {
		return internalError(c, "User lookup failed", err)
	}

	history, err := bc.repos.Transactions.GetByUserID(user.ID, 0, 20)
	if err != nil {
		return internalError(c, "Transaction history lookup failed", err)
	}

	return c.JSON(fiber.Map{
		"user": fiber.Map{
			"id":                  user.ID,
			"email":               user.Email,
			"subscription_status": user.SubscriptionStatus,
			"subscription_plan":   user.SubscriptionPlan,
		},
		"credits": fiber.Map{
			"monthly_credits": user.MonthlyCredits,
			"bonus_credits":   user.BonusCredits,
			"total_credits":   user.TotalCredits(),
		},
		"current_period_start": user.CurrentPeriodStart,
		"current_period_end":   user.CurrentPeriodEnd,
		"trial_end_date":       user.TrialEndDate,
		"transactions":         history,
	})
}

// ensureCustomer resolves (and persists on first use) the user's processor
// customer id.
func (bc *BillingController) ensureCustomer(c *fiber.Ctx, user *models.User) (string, error) {
	customerID, err := bc.stripe.EnsureCustomer(c.UserContext(), user)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != customerID {
		user.StripeCustomerID = customerID
		if err := bc.repos.User.UpdateSubscriptionState(user); err != nil {
			return "", err
		}
	}
	return customerID, nil
}

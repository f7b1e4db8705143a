package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quaestor-app/quaestor/app/controllers"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/adminops"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/quaestor-app/quaestor/internal/pkg/database"
	"github.com/quaestor-app/quaestor/internal/pkg/identity"
	"github.com/quaestor-app/quaestor/internal/pkg/middleware"
	"github.com/quaestor-app/quaestor/internal/pkg/ratelimit"
	"github.com/quaestor-app/quaestor/internal/pkg/subscription"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	repos := repository.GetGlobalFactory().GetRepositories()
	ledger := credits.NewLedgerFromDB(database.GetDB())

	subscription.InitStripe()
	stripeClient := subscription.NewStripeClientFromEnv()
	subscriptions := subscription.NewService(repos.User, ledger, stripeClient)

	verifier := identity.NewVerifierFromEnv()
	allowlist := adminops.NewAllowlistFromEnv()
	overrides := adminops.NewService(repos.User, ledger, allowlist)

	billing := controllers.NewBillingController(repos, ledger, stripeClient)
	webhooks := controllers.NewWebhookController(repos.WebhookEvent, subscriptions)
	admin := controllers.NewAdminController(overrides, repos.Transactions, repos.WebhookEvent, subscriptions)

	// Per-address limiters. Admin endpoints are tighter than the general
	// authenticated surface; token verification gets its own bucket so a
	// credential-stuffing loop cannot ride on normal traffic.
	verifyLimiter := ratelimit.New(time.Minute, 5)
	adminLimiter := ratelimit.New(time.Minute, 10)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhooks authenticate by signature, not bearer token.
	app.Post("/webhooks/stripe", webhooks.HandleStripeWebhook)

	auth := middleware.BearerAuthMiddleware(verifier, allowlist)

	billingGroup := app.Group("/billing", ratelimit.Middleware(verifyLimiter, "verify"), auth)
	billingGroup.Post("/deduct", billing.HandleDeduct)
	billingGroup.Post("/checkout", billing.HandleSubscriptionCheckout)
	billingGroup.Post("/credits/checkout", billing.HandleCreditCheckout)
	billingGroup.Get("/me", billing.HandleMe)

	adminGroup := app.Group("/admin", ratelimit.Middleware(adminLimiter, "admin"), auth, middleware.AdminOnlyMiddleware())
	adminGroup.Get("/user-tier", admin.HandleGetUserTier)
	adminGroup.Post("/user-tier", admin.HandleSetUserTier)
	adminGroup.Get("/users", admin.HandleListUsers)
	adminGroup.Post("/webhooks/replay", admin.HandleReplayWebhooks)
}

package controllers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/internal/pkg/adminops"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/quaestor-app/quaestor/internal/pkg/subscription"
	"github.com/quaestor-app/quaestor/internal/pkg/usercontext"
)

func newAdminTestApp(backend *stubBackend, events *memEventRepo, processor subscription.ProcessorClient, actorEmail string) *fiber.App {
	ledger := credits.NewLedger(backend)
	overrides := adminops.NewService(backend, ledger, adminops.NewAllowlist([]string{actorEmail}))
	service := subscription.NewService(backend, ledger, processor)
	ac := NewAdminController(overrides, txnRepo{backend}, events, service)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("USER_CONTEXT", usercontext.UserContext{Email: actorEmail, IsAdmin: true})
		return c.Next()
	})
	app.Get("/admin/user-tier", ac.HandleGetUserTier)
	app.Post("/admin/user-tier", ac.HandleSetUserTier)
	app.Get("/admin/users", ac.HandleListUsers)
	app.Post("/admin/webhooks/replay", ac.HandleReplayWebhooks)
	return app
}

func TestAdminGetUserTier_AcceptsCamelCaseParam(t *testing.T) {
	backend := newStubBackend()
	admin := backend.add(models.User{Email: "root@quaestor.app", SubscriptionStatus: models.SubscriptionFree})
	target := backend.add(models.User{
		Email:              "reader@example.com",
		SubscriptionStatus: models.SubscriptionActive,
		SubscriptionPlan:   credits.PlanScholar,
		MonthlyCredits:     90,
	})
	require.NoError(t, backend.CreateTxn(&models.CreditTransaction{
		UserID:    target.ID,
		Amount:    -10,
		Type:      models.TransactionReportGeneration,
		CreatedAt: time.Now(),
	}))
	app := newAdminTestApp(backend, newMemEventRepo(), nil, admin.Email)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/admin/user-tier?userId=%d", target.ID), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	userView, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, target.ID, userView["userId"])
	assert.EqualValues(t, 90, userView["monthlyCredits"])

	ledgerView, ok := body["ledger"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, ledgerView["entries"])
	assert.EqualValues(t, -10, ledgerView["net_change_30d"])
}

func TestAdminGetUserTier_RequiresTarget(t *testing.T) {
	backend := newStubBackend()
	admin := backend.add(models.User{Email: "root@quaestor.app"})
	app := newAdminTestApp(backend, newMemEventRepo(), nil, admin.Email)

	req := httptest.NewRequest(http.MethodGet, "/admin/user-tier", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminListUsers_Paginates(t *testing.T) {
	backend := newStubBackend()
	admin := backend.add(models.User{Email: "root@quaestor.app"})
	backend.add(models.User{Email: "a@example.com"})
	backend.add(models.User{Email: "b@example.com"})
	app := newAdminTestApp(backend, newMemEventRepo(), nil, admin.Email)

	req := httptest.NewRequest(http.MethodGet, "/admin/users?limit=2", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	users, ok := body["users"].([]any)
	require.True(t, ok)
	assert.Len(t, users, 2)
	assert.EqualValues(t, 3, body["total"])
}

func TestAdminReplayWebhooks_SweepReprocessesFailedEvent(t *testing.T) {
	backend := newStubBackend()
	admin := backend.add(models.User{Email: "root@quaestor.app"})
	user := backend.add(models.User{
		Email:                "reader@example.com",
		SubscriptionStatus:   models.SubscriptionPastDue,
		SubscriptionPlan:     credits.PlanScholar,
		MonthlyCredits:       3,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	})
	events := newMemEventRepo()
	_, stored, err := events.CreateIfNotExists(&models.WebhookEvent{
		Provider:       models.BillingProviderStripe,
		EventID:        "evt_stuck",
		EventType:      "invoice.paid",
		PayloadJSON:    string(invoicePaidPayload("evt_stuck", "sub_1", "cus_1")),
		SignatureValid: true,
	})
	require.NoError(t, err)
	require.NoError(t, events.MarkFailed(stored.ID, "processor unavailable"))

	processor := &stubProcessor{info: subscription.SubscriptionInfo{
		Status:             "active",
		CurrentPeriodStart: time.Now(),
		CurrentPeriodEnd:   time.Now().AddDate(0, 1, 0),
	}}
	app := newAdminTestApp(backend, events, processor, admin.Email)

	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks/replay", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	replayed, ok := body["replayed"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"evt_stuck"}, replayed)
	assert.Empty(t, body["failed"])

	refilled, err := backend.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, refilled.SubscriptionStatus)
	assert.EqualValues(t, 100, refilled.MonthlyCredits)

	recorded, err := events.GetByProviderEventID(models.BillingProviderStripe, "evt_stuck")
	require.NoError(t, err)
	assert.NotNil(t, recorded.ProcessedAt)
	assert.Empty(t, recorded.ProcessingError)
}

func TestAdminReplayWebhooks_SingleEventGuards(t *testing.T) {
	backend := newStubBackend()
	admin := backend.add(models.User{Email: "root@quaestor.app"})
	events := newMemEventRepo()
	_, stored, err := events.CreateIfNotExists(&models.WebhookEvent{
		Provider:       models.BillingProviderStripe,
		EventID:        "evt_done",
		EventType:      "invoice.paid",
		PayloadJSON:    `{"id":"evt_done","type":"invoice.paid"}`,
		SignatureValid: true,
	})
	require.NoError(t, err)
	require.NoError(t, events.MarkProcessed(stored.ID))

	app := newAdminTestApp(backend, events, nil, admin.Email)

	resp, _ := postJSON(t, app, "/admin/webhooks/replay", fiber.Map{"eventId": "evt_done"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postJSON(t, app, "/admin/webhooks/replay", fiber.Map{"eventId": "evt_missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

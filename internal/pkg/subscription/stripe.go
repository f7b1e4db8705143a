package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/quaestor-app/quaestor/internal/pkg/env"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	stripesub "github.com/stripe/stripe-go/v79/subscription"
)

// SubscriptionInfo is the normalized processor-side subscription state used
// when an event payload omits period bounds.
type SubscriptionInfo struct {
	ID                 string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
}

// ProcessorClient is the outbound surface the state machine needs from the
// payment processor.
type ProcessorClient interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
}

// StripeClient talks to the Stripe API for customer creation, checkout
// sessions and subscription lookups.
type StripeClient struct {
	SuccessURL string
	CancelURL  string
}

// InitStripe wires the Stripe API key from the environment.
func InitStripe() {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
}

// NewStripeClientFromEnv builds a client with redirect URLs from the env.
func NewStripeClientFromEnv() *StripeClient {
	base := strings.TrimRight(env.GetEnv("FRONTEND_URL", "http://localhost:3000"), "/")
	return &StripeClient{
		SuccessURL: base + "/billing/success",
		CancelURL:  base + "/billing/cancel",
	}
}

// EnsureCustomer returns the user's Stripe customer id, creating the customer
// on first use. The caller persists the returned id on the user row.
func (c *StripeClient) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
		},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer create: %w", err)
	}
	return cust.ID, nil
}

// NewSubscriptionCheckout opens a subscription-mode checkout session for the
// given tier and returns its URL.
func (c *StripeClient) NewSubscriptionCheckout(ctx context.Context, customerID, plan string) (string, error) {
	priceID := PriceIDForPlan(plan)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for plan %q", plan)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.SuccessURL),
		CancelURL:  stripe.String(c.CancelURL),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}
	return sess.URL, nil
}

// NewCreditCheckout opens a one-time-payment checkout session for a bonus
// credit pack. The user id and credit amount travel as session metadata so
// the webhook handler can apply the grant.
func (c *StripeClient) NewCreditCheckout(ctx context.Context, customerID string, userID uint, creditAmount int64) (string, error) {
	if creditAmount <= 0 {
		return "", errors.New("credit amount must be positive")
	}
	priceID := env.GetEnv("STRIPE_PRICE_CREDIT_PACK", "")
	if priceID == "" {
		return "", errors.New("no credit pack price configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(uint64(userID), 10),
			"credits": strconv.FormatInt(creditAmount, 10),
		},
		SuccessURL: stripe.String(c.SuccessURL),
		CancelURL:  stripe.String(c.CancelURL),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe credit checkout session: %w", err)
	}
	return sess.URL, nil
}

// FetchSubscription reads a subscription's current state from the Stripe API.
func (c *StripeClient) FetchSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripesub.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe subscription fetch: %w", err)
	}

	info := &SubscriptionInfo{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		info.TrialEnd = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		info.PriceID = sub.Items.Data[0].Price.ID
	}
	return info, nil
}

// PriceIDForPlan resolves a tier name to its configured Stripe price.
func PriceIDForPlan(plan string) string {
	switch credits.NormalizePlan(plan) {
	case credits.PlanScholar:
		return env.GetEnv("STRIPE_PRICE_SCHOLAR", "")
	case credits.PlanInstitute:
		return env.GetEnv("STRIPE_PRICE_INSTITUTE", "")
	default:
		return ""
	}
}

// PlanForPriceID resolves a Stripe price back to a tier name, defaulting to
// the default paid plan for unmapped prices on paid subscriptions.
func PlanForPriceID(priceID string) string {
	switch strings.TrimSpace(priceID) {
	case "":
		return credits.DefaultPaidPlan
	case env.GetEnv("STRIPE_PRICE_SCHOLAR", "price_scholar"):
		return credits.PlanScholar
	case env.GetEnv("STRIPE_PRICE_INSTITUTE", "price_institute"):
		return credits.PlanInstitute
	default:
		return credits.DefaultPaidPlan
	}
}

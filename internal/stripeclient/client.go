// Package stripeclient resolves plan tiers from Stripe subscription state.
// Checkout and webhook handling live in the main web application; this
// service only reconciles which tier a customer is on so the ledger meters
// against the right plan.
package stripeclient

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"launchpilot/api_metering/pkg/config"
	"launchpilot/api_metering/pkg/logging"
)

// Config for creating a new Stripe client
type Config struct {
	SecretKey string // STRIPE_SECRET_KEY
	// PriceToPlan maps Stripe price IDs to plan tier names.
	PriceToPlan map[string]string
	Logger      logging.Logger
}

func LoadConfig(logger logging.Logger) Config {
	priceToPlan := map[string]string{}
	if priceID := config.GetEnv("STRIPE_PRICE_PRO", ""); priceID != "" {
		priceToPlan[priceID] = "pro"
	}
	if priceID := config.GetEnv("STRIPE_PRICE_UNLIMITED", ""); priceID != "" {
		priceToPlan[priceID] = "unlimited"
	}
	return Config{
		SecretKey:   config.GetEnv("STRIPE_SECRET_KEY", ""),
		PriceToPlan: priceToPlan,
		Logger:      logger,
	}
}

// Client wraps the Stripe API operations the sync job needs.
type Client struct {
	priceToPlan map[string]string
	logger      logging.Logger
}

func NewClient(cfg Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = cfg.SecretKey

	return &Client{
		priceToPlan: cfg.PriceToPlan,
		logger:      cfg.Logger,
	}
}

// FindCustomerID looks up a Stripe customer by the user_id metadata the web
// application stamps at checkout. Returns "" when no customer exists.
func (c *Client) FindCustomerID(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", userID)
	params.Context = ctx
	iter := customer.Search(params)

	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to search Stripe customer: %w", err)
	}
	return "", nil
}

// ResolvePlan returns the plan tier implied by the customer's active
// subscriptions. No active subscription (or an unmapped price) means the
// free tier.
func (c *Client) ResolvePlan(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	iter := subscription.List(params)

	for iter.Next() {
		sub := iter.Subscription()
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if plan, ok := c.priceToPlan[item.Price.ID]; ok {
				return plan, nil
			}
			c.logger.WithFields(logging.Fields{
				"customer_id": customerID,
				"price_id":    item.Price.ID,
			}).Warn("Active subscription with unmapped Stripe price")
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to list Stripe subscriptions: %w", err)
	}
	return "free", nil
}

package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// CheckoutRequest describes a one-off credit purchase.
type CheckoutRequest struct {
	UserID     string
	CustomerID string
	Email      string
	Package    CreditPackage
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the hosted checkout page created for a purchase.
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the payment provider used for checkout and customers.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
}

// StripeGateway implements Gateway with the Stripe API.
type StripeGateway struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(secretKey string, logger *slog.Logger) *StripeGateway {
	return &StripeGateway{
		api:    client.New(secretKey, nil),
		logger: logger.With("component", "stripe"),
	}
}

// CreateCheckoutSession creates a payment-mode Checkout Session carrying userId and credits metadata.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if req.Package.StripePriceID != "" {
		lineItem.Price = stripe.String(req.Package.StripePriceID)
	} else {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(string(stripe.CurrencyUSD)),
			UnitAmount: stripe.Int64(req.Package.PriceCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(fmt.Sprintf("%s - %d credits", req.Package.Name, req.Package.Credits)),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{lineItem},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("userId", req.UserID)
	params.AddMetadata("credits", fmt.Sprintf("%d", req.Package.Credits))

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	g.logger.Info("checkout session created", "user_id", req.UserID, "package", req.Package.ID, "session_id", sess.ID)
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreateCustomer creates a Stripe customer for a new user.
func (g *StripeGateway) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"aigency/internal/repo"
)

// ErrNotConfigured is returned when no payment gateway is configured.
var ErrNotConfigured = errors.New("payments are not configured")

// Store is the persistence surface billing needs.
type Store interface {
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	InTx(ctx context.Context, fn func(q repo.Queries) error) error
}

// Service sells credit packages.
type Service struct {
	gateway  Gateway
	store    Store
	packages []CreditPackage
	appURL   string
	logger   *slog.Logger
}

// NewService creates a billing service. gateway may be nil when Stripe is not configured.
func NewService(gateway Gateway, store Store, packages []CreditPackage, appURL string, logger *slog.Logger) *Service {
	return &Service{
		gateway:  gateway,
		store:    store,
		packages: packages,
		appURL:   strings.TrimRight(appURL, "/"),
		logger:   logger.With("component", "billing"),
	}
}

// Packages returns the packages on sale.
func (s *Service) Packages() []CreditPackage {
	return s.packages
}

// Checkout starts a hosted checkout for packageID and returns its URL.
func (s *Service) Checkout(ctx context.Context, user *repo.User, packageID string) (string, error) {
	pkg, err := FindPackage(s.packages, packageID)
	if err != nil {
		return "", err
	}
	if s.gateway == nil {
		return "", ErrNotConfigured
	}

	req := CheckoutRequest{
		UserID:     user.ID,
		Email:      user.Email,
		Package:    pkg,
		SuccessURL: s.appURL + "/dashboard/credits?success=true",
		CancelURL:  s.appURL + "/dashboard/credits",
	}
	if user.StripeCustomerID != nil {
		req.CustomerID = *user.StripeCustomerID
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// EnsureCustomer creates a Stripe customer for user when none is stored yet. It is a
// no-op without a gateway.
func (s *Service) EnsureCustomer(ctx context.Context, user *repo.User) error {
	if s.gateway == nil || user.StripeCustomerID != nil {
		return nil
	}
	customerID, err := s.gateway.CreateCustomer(ctx, user.ID, user.Email, user.Name)
	if err != nil {
		return err
	}
	if err := s.store.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return fmt.Errorf("store customer id: %w", err)
	}
	user.StripeCustomerID = &customerID
	return nil
}

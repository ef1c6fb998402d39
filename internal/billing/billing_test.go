package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"aigency/internal/logging"
	"aigency/internal/metrics"
	"aigency/internal/repo"
	"aigency/migrations"
)

const testSecret = "whsec_test"

func newTestStore(t *testing.T) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	files, err := migrations.ForDriver("sqlite")
	require.NoError(t, err)
	require.NoError(t, r.RunMigrations(ctx, files))
	return r
}

type fakeGateway struct {
	lastCheckout CheckoutRequest
	customers    int
	err          error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastCheckout = req
	return &CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
}

func (f *fakeGateway) CreateCustomer(_ context.Context, userID, email, name string) (string, error) {
	f.customers++
	return "cus_" + userID, nil
}

func TestPackages(t *testing.T) {
	pkgs := Packages(PriceIDs{Growth: "price_growth"})
	require.Len(t, pkgs, 3)

	growth, err := FindPackage(pkgs, "growth")
	require.NoError(t, err)
	assert.EqualValues(t, 500, growth.Credits)
	assert.EqualValues(t, 4000, growth.PriceCents)
	assert.Equal(t, "price_growth", growth.StripePriceID)

	_, err = FindPackage(pkgs, "enterprise")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gw := &fakeGateway{}
	svc := NewService(gw, store, Packages(PriceIDs{}), "https://app.example.com/", logging.Discard())

	user, err := store.CreateUser(ctx, repo.User{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	url, err := svc.Checkout(ctx, user, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", url)
	assert.Equal(t, user.ID, gw.lastCheckout.UserID)
	assert.Equal(t, "ann@example.com", gw.lastCheckout.Email)
	assert.Empty(t, gw.lastCheckout.CustomerID)
	assert.EqualValues(t, 1500, gw.lastCheckout.Package.Credits)
	assert.Equal(t, "https://app.example.com/dashboard/credits?success=true", gw.lastCheckout.SuccessURL)

	require.NoError(t, svc.EnsureCustomer(ctx, user))
	require.NoError(t, svc.EnsureCustomer(ctx, user))
	assert.Equal(t, 1, gw.customers)

	_, err = svc.Checkout(ctx, user, "starter")
	require.NoError(t, err)
	assert.Equal(t, "cus_"+user.ID, gw.lastCheckout.CustomerID)

	_, err = svc.Checkout(ctx, user, "nope")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	gw.err = errors.New("stripe down")
	_, err = svc.Checkout(ctx, user, "starter")
	assert.Error(t, err)
}

func TestCheckoutWithoutGateway(t *testing.T) {
	svc := NewService(nil, newTestStore(t), Packages(PriceIDs{}), "http://localhost", logging.Discard())
	_, err := svc.Checkout(context.Background(), &repo.User{ID: "u"}, "starter")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, svc.EnsureCustomer(context.Background(), &repo.User{ID: "u"}))
}

func checkoutEvent(eventID, userID string, credits int) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_1", "object": "checkout.session", "metadata": {"userId": %q, "credits": "%d"}}}
}`, eventID, userID, credits))
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func newWebhookHandler(store Store) *WebhookHandler {
	m := metrics.NewUnregistered("test")
	return NewWebhookHandler(logging.Discard(), m, testSecret, NewCreditProcessor(store, m, logging.Discard()))
}

func TestWebhookCreditsOncePerEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user, err := store.CreateUser(ctx, repo.User{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	h := newWebhookHandler(store)
	payload := checkoutEvent("evt_1", user.ID, 500)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(t, payload, testSecret))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.Credits)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_2", user.ID, 100), testSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 600, got.Credits)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newWebhookHandler(newTestStore(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_1", "u", 100), "whsec_other"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(checkoutEvent("evt_1", "u", 100)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIgnoresOtherEventsAndMissingMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user, err := store.CreateUser(ctx, repo.User{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	h := newWebhookHandler(store)

	other := []byte(`{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, other, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_3", user.ID, 0), testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_4", "ghost", 100), testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Credits)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := newWebhookHandler(newTestStore(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type failingProcessor struct{}

func (failingProcessor) HandleStripeEvent(context.Context, stripe.Event) error {
	return errors.New("database unavailable")
}

func TestWebhookWithoutMetrics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user, err := store.CreateUser(ctx, repo.User{Name: "Bo", Email: "bo@example.com"})
	require.NoError(t, err)

	h := NewWebhookHandler(logging.Discard(), nil, testSecret, NewCreditProcessor(store, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_nm", user.ID, 100), testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_nm", user.ID, 100), "whsec_other"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := NewWebhookHandler(logging.Discard(), nil, testSecret, failingProcessor{})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, signedRequest(t, checkoutEvent("evt_fail", user.ID, 100), testSecret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.Credits)
}

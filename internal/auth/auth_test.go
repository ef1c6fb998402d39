package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"aigency/internal/cache"
	"aigency/internal/logging"
	"aigency/internal/repo"
	"aigency/migrations"
)

type fakeCustomers struct{ calls int }

func (f *fakeCustomers) EnsureCustomer(context.Context, *repo.User) error {
	f.calls++
	return errors.New("stripe down")
}

func newTestService(t *testing.T) (*Service, *repo.SQLiteRepository, *fakeCustomers) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	files, err := migrations.ForDriver("sqlite")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(ctx, files))

	mr := miniredis.RunT(t)
	redis := cache.New(cache.Config{Addr: mr.Addr()}, logging.Discard())
	t.Cleanup(func() { _ = redis.Close() })

	customers := &fakeCustomers{}
	return NewService(store, redis, customers, logging.Discard()), store, customers
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _, customers := newTestService(t)
	ctx := context.Background()

	user, session, err := svc.SignUp(ctx, SignUpInput{Name: "Ana", Email: "Ana@Example.com", Password: "correct horse"}, RequestMeta{IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.NotEmpty(t, session.Token)
	assert.WithinDuration(t, time.Now().Add(SessionTTL), session.ExpiresAt, time.Minute)
	assert.Equal(t, 1, customers.calls)

	_, _, err = svc.SignUp(ctx, SignUpInput{Name: "Ana", Email: "ana@example.com", Password: "another pass"}, RequestMeta{})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = svc.SignUp(ctx, SignUpInput{Name: "Bo", Email: "bo@example.com", Password: "short"}, RequestMeta{})
	assert.Error(t, err)

	signedIn, _, err := svc.SignIn(ctx, SignInInput{Email: "ana@example.com", Password: "correct horse"}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)

	_, _, err = svc.SignIn(ctx, SignInInput{Email: "ana@example.com", Password: "wrong password"}, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.SignIn(ctx, SignInInput{Email: "nobody@example.com", Password: "whatever1"}, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateAndSignOut(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, session, err := svc.SignUp(ctx, SignUpInput{Name: "Ana", Email: "ana@example.com", Password: "correct horse"}, RequestMeta{})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Served from the cache the second time.
	got, err = svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, svc.SignOut(ctx, session.Token))
	_, err = svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExpiredSessionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, session, err := svc.SignUp(ctx, SignUpInput{Name: "Ana", Email: "ana@example.com", Password: "correct horse"}, RequestMeta{})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(SessionTTL + time.Hour) }
	_, err = svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestOAuthSignInAndLink(t *testing.T) {
	svc, _, customers := newTestService(t)
	ctx := context.Background()

	identity := OAuthIdentity{ProviderID: repo.ProviderFacebook, AccountID: "fb-1", Name: "Ana", Email: "ana@example.com"}
	token := &oauth2.Token{AccessToken: "login-token", Expiry: time.Now().Add(time.Hour)}
	user, session, err := svc.SignInWithOAuth(ctx, identity, token, RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, 1, customers.calls)

	again, _, err := svc.SignInWithOAuth(ctx, identity, token, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, 1, customers.calls)

	_, err = svc.GetAccessToken(ctx, user.ID, repo.ProviderFacebookAds)
	assert.ErrorIs(t, err, ErrNoProviderToken)

	require.NoError(t, svc.LinkAccount(ctx, user.ID, repo.ProviderFacebookAds, "fb-1", &oauth2.Token{AccessToken: "ads-token"}))
	got, err := svc.GetAccessToken(ctx, user.ID, repo.ProviderFacebookAds)
	require.NoError(t, err)
	assert.Equal(t, "ads-token", got)
}

func TestMiddleware(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, session, err := svc.SignUp(context.Background(), SignUpInput{Name: "Ana", Email: "ana@example.com", Password: "correct horse"}, RequestMeta{})
	require.NoError(t, err)

	handler := Middleware(svc, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(user.Email))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session.Token})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana@example.com", rec.Body.String())
}

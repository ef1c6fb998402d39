package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigency/internal/logging"
	"aigency/internal/metrics"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]any
}

type fakeGraph struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r recordedRequest)
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: map[string]string{}}
	for k := range r.URL.Query() {
		rec.Query[k] = r.URL.Query().Get(k)
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, rec)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r recordedRequest)) (*Client, *fakeGraph) {
	t.Helper()
	fake := &fakeGraph{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v21.0"}, logging.Discard(), metrics.NewUnregistered("test")), fake
}

func TestAdAccounts(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		_, _ = w.Write([]byte(`{"data":[
			{"id":"act_1","name":"Main","account_status":1,"currency":"USD"},
			{"id":"act_2","name":"Disabled","account_status":2}
		]}`))
	})

	accounts, err := client.AdAccounts(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	active := ActiveAdAccounts(accounts)
	require.Len(t, active, 1)
	assert.Equal(t, "act_1", active[0].ID)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "/v21.0/me/adaccounts", fake.requests[0].Path)
	assert.Equal(t, "tok", fake.requests[0].Query["access_token"])
	assert.Equal(t, "id,name,account_status,currency", fake.requests[0].Query["fields"])
}

func TestGraphErrorCarriesMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	})

	_, err := client.CreateCampaign(context.Background(), "act_1", "tok", CampaignParams{Name: "x", Objective: "OUTCOME_TRAFFIC", Status: "PAUSED"})
	require.Error(t, err)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadRequest, gerr.Status)
	assert.Equal(t, "Invalid parameter", gerr.Message)
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestExpiredTokenIsClassified(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Session has expired","code":190}}`))
	})

	_, err := client.AdAccounts(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
	var gerr *GraphError
	assert.True(t, errors.As(err, &gerr))
}

func TestPauseAndBudgetSendTokenInBody(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	ctx := context.Background()
	require.NoError(t, client.PauseCampaign(ctx, "123", "tok"))
	require.NoError(t, client.UpdateAdSetBudget(ctx, "456", "tok", 2500))

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "/v21.0/123", fake.requests[0].Path)
	assert.Equal(t, "PAUSED", fake.requests[0].Body["status"])
	assert.Equal(t, "tok", fake.requests[0].Body["access_token"])
	assert.EqualValues(t, 2500, fake.requests[1].Body["daily_budget"])
}

func TestCampaignInsights(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		_, _ = w.Write([]byte(`{"data":[{"spend":"12.50","impressions":"1000","clicks":"40","ctr":"4.0",
			"actions":[{"action_type":"link_click","value":"40"}],"date_start":"2026-01-01","date_stop":"2026-01-07"}]}`))
	})

	rows, err := client.CampaignInsights(context.Background(), "123", "tok", DateRange{Since: "2026-01-01", Until: "2026-01-07"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12.50", rows[0].Spend)
	require.Len(t, rows[0].Actions, 1)
	assert.JSONEq(t, `{"since":"2026-01-01","until":"2026-01-07"}`, fake.requests[0].Query["time_range"])
}

func TestPublishCampaignCreatesPausedStructure(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		switch {
		case strings.HasSuffix(r.Path, "/campaigns"):
			_, _ = w.Write([]byte(`{"id":"c1"}`))
		case strings.HasSuffix(r.Path, "/adsets"):
			_, _ = w.Write([]byte(`{"id":"s1"}`))
		case strings.HasSuffix(r.Path, "/adcreatives"):
			_, _ = w.Write([]byte(`{"id":"cr"}`))
		case strings.HasSuffix(r.Path, "/ads"):
			_, _ = w.Write([]byte(`{"id":"ad"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := client.PublishCampaign(context.Background(), "1", "tok", CampaignPlan{
		Name:             "Spring",
		Objective:        "OUTCOME_TRAFFIC",
		DailyBudgetCents: 2000,
		DurationDays:     7,
		Countries:        []string{"US"},
		AgeMin:           25,
		AgeMax:           45,
		Ads:              []AdCopy{{Headline: "h1", PrimaryText: "p1", CallToAction: "LEARN_MORE"}, {Headline: "h2", PrimaryText: "p2"}},
		PageID:           "page",
		Link:             "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.CampaignID)
	assert.Equal(t, "s1", res.AdSetID)
	assert.Len(t, res.AdIDs, 2)

	assert.Equal(t, "/v21.0/act_1/campaigns", fake.requests[0].Path)
	assert.Equal(t, "PAUSED", fake.requests[0].Body["status"])
	adset := fake.requests[1].Body
	assert.Equal(t, "LINK_CLICKS", adset["optimization_goal"])
	assert.EqualValues(t, 2000, adset["daily_budget"])
	assert.Equal(t, "c1", adset["campaign_id"])
}

func TestPublishCampaignCleansUpOnFailure(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r recordedRequest) {
		switch {
		case strings.HasSuffix(r.Path, "/campaigns"):
			_, _ = w.Write([]byte(`{"id":"c1"}`))
		case r.Method == http.MethodDelete:
			_, _ = w.Write([]byte(`{"success":true}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad targeting"}}`))
		}
	})

	_, err := client.PublishCampaign(context.Background(), "act_1", "tok", CampaignPlan{Name: "x", Objective: "OUTCOME_SALES", DailyBudgetCents: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad targeting")

	last := fake.requests[len(fake.requests)-1]
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, "/v21.0/c1", last.Path)
}

func TestCountryCodes(t *testing.T) {
	got := CountryCodes([]string{"US", "Austin, TX", "Prague, Czech Republic", "united kingdom", "US"})
	assert.Equal(t, []string{"US", "CZ", "GB"}, got)
}

func TestOAuthEndpoint(t *testing.T) {
	ep := OAuthConfig{Version: "v21.0"}.Endpoint()
	assert.Equal(t, "https://www.facebook.com/v21.0/dialog/oauth", ep.AuthURL)
	assert.Equal(t, "https://graph.facebook.com/v21.0/oauth/access_token", ep.TokenURL)

	cfg := OAuthConfig{ClientID: "id"}.OAuth2("https://app/cb", AdsScopes)
	url := cfg.AuthCodeURL("state")
	assert.Contains(t, url, "client_id=id")
	assert.Contains(t, url, "state=state")
}

package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aigency/internal/metrics"
)

const defaultBaseURL = "https://graph.facebook.com/v21.0"

// AccountStatusActive is the Graph account_status value of a usable ad account.
const AccountStatusActive = 1

// GraphError is returned for non-2xx Graph API responses.
type GraphError struct {
	Status    int
	Message   string
	Type      string
	Code      int
	FBTraceID string
}

func (e *GraphError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("facebook graph error: status=%d", e.Status)
	}
	return fmt.Sprintf("facebook graph error: %s", e.Message)
}

// ErrInvalidToken indicates Graph rejected the access token (expired or revoked).
var ErrInvalidToken = errors.New("facebook access token invalid")

// Client provides typed access to the Facebook Graph marketing API.
type Client struct {
	logger  *slog.Logger
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// Config holds Graph client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a new Graph client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		logger:  logger.With("component", "facebook"),
		baseURL: base,
		http:    httpClient,
		metrics: metrics,
	}
}

// AdAccount is an entry of /me/adaccounts. ID has the "act_" prefix.
type AdAccount struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
	Currency      string `json:"currency,omitempty"`
}

// Page is a Facebook page the user manages.
type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Profile is the subset of /me used for social login.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

// CreatedObject is the response of Graph create calls.
type CreatedObject struct {
	ID string `json:"id"`
}

// AdAccounts lists every ad account reachable with token.
func (c *Client) AdAccounts(ctx context.Context, token string) ([]AdAccount, error) {
	q := url.Values{}
	q.Set("fields", "id,name,account_status,currency")
	var env listEnvelope[AdAccount]
	if err := c.get(ctx, "adaccounts", "/me/adaccounts", token, q, &env); err != nil {
		return nil, fmt.Errorf("fetch ad accounts: %w", err)
	}
	if env.Data == nil {
		return []AdAccount{}, nil
	}
	return env.Data, nil
}

// ActiveAdAccounts keeps accounts whose status is active.
func ActiveAdAccounts(accounts []AdAccount) []AdAccount {
	active := make([]AdAccount, 0, len(accounts))
	for _, a := range accounts {
		if a.AccountStatus == AccountStatusActive {
			active = append(active, a)
		}
	}
	return active
}

// Pages lists the pages the token can publish ads for.
func (c *Client) Pages(ctx context.Context, token string) ([]Page, error) {
	q := url.Values{}
	q.Set("fields", "id,name,category")
	var env listEnvelope[Page]
	if err := c.get(ctx, "pages", "/me/accounts", token, q, &env); err != nil {
		return nil, fmt.Errorf("fetch pages: %w", err)
	}
	if env.Data == nil {
		return []Page{}, nil
	}
	return env.Data, nil
}

// Me returns the profile of the token owner.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,name,email")
	var p Profile
	if err := c.get(ctx, "me", "/me", token, q, &p); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &p, nil
}

// CampaignParams configures a new campaign.
type CampaignParams struct {
	Name                string   `json:"name"`
	Objective           string   `json:"objective"`
	Status              string   `json:"status"`
	SpecialAdCategories []string `json:"special_ad_categories"`
}

// CreateCampaign creates a campaign under an ad account.
func (c *Client) CreateCampaign(ctx context.Context, accountID, token string, params CampaignParams) (*CreatedObject, error) {
	if params.SpecialAdCategories == nil {
		params.SpecialAdCategories = []string{}
	}
	body := map[string]any{
		"name":                            params.Name,
		"objective":                       params.Objective,
		"status":                          params.Status,
		"special_ad_categories":           params.SpecialAdCategories,
		"is_adset_budget_sharing_enabled": false,
	}
	var out CreatedObject
	if err := c.post(ctx, "campaigns", "/"+accountID+"/campaigns", token, body, &out); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return &out, nil
}

// Targeting is the audience of an ad set.
type Targeting struct {
	GeoLocations GeoLocations `json:"geo_locations"`
	AgeMin       int          `json:"age_min,omitempty"`
	AgeMax       int          `json:"age_max,omitempty"`
}

// GeoLocations narrows targeting to countries.
type GeoLocations struct {
	Countries []string `json:"countries"`
}

// AdSetParams configures a new ad set. DailyBudget is in cents.
type AdSetParams struct {
	Name             string    `json:"name"`
	CampaignID       string    `json:"campaign_id"`
	DailyBudget      int64     `json:"daily_budget"`
	BillingEvent     string    `json:"billing_event"`
	OptimizationGoal string    `json:"optimization_goal"`
	BidStrategy      string    `json:"bid_strategy,omitempty"`
	Status           string    `json:"status"`
	Targeting        Targeting `json:"targeting"`
	StartTime        string    `json:"start_time,omitempty"`
	EndTime          string    `json:"end_time,omitempty"`
}

// CreateAdSet creates an ad set under an ad account.
func (c *Client) CreateAdSet(ctx context.Context, accountID, token string, params AdSetParams) (*CreatedObject, error) {
	var out CreatedObject
	if err := c.post(ctx, "adsets", "/"+accountID+"/adsets", token, params, &out); err != nil {
		return nil, fmt.Errorf("create ad set: %w", err)
	}
	return &out, nil
}

// CreativeParams configures a link ad creative.
type CreativeParams struct {
	Name         string
	PageID       string
	Link         string
	Message      string
	Headline     string
	CallToAction string
}

// CreateAdCreative creates a link-post creative for a page.
func (c *Client) CreateAdCreative(ctx context.Context, accountID, token string, params CreativeParams) (*CreatedObject, error) {
	linkData := map[string]any{
		"link":    params.Link,
		"message": params.Message,
	}
	if params.Headline != "" {
		linkData["name"] = params.Headline
	}
	if params.CallToAction != "" {
		linkData["call_to_action"] = map[string]any{
			"type":  params.CallToAction,
			"value": map[string]string{"link": params.Link},
		}
	}
	body := map[string]any{
		"name": params.Name,
		"object_story_spec": map[string]any{
			"page_id":   params.PageID,
			"link_data": linkData,
		},
	}
	var out CreatedObject
	if err := c.post(ctx, "adcreatives", "/"+accountID+"/adcreatives", token, body, &out); err != nil {
		return nil, fmt.Errorf("create ad creative: %w", err)
	}
	return &out, nil
}

// AdParams configures a new ad.
type AdParams struct {
	Name       string
	AdSetID    string
	CreativeID string
	Status     string
}

// CreateAd links an ad set with a creative.
func (c *Client) CreateAd(ctx context.Context, accountID, token string, params AdParams) (*CreatedObject, error) {
	body := map[string]any{
		"name":     params.Name,
		"adset_id": params.AdSetID,
		"creative": map[string]string{"creative_id": params.CreativeID},
		"status":   params.Status,
	}
	var out CreatedObject
	if err := c.post(ctx, "ads", "/"+accountID+"/ads", token, body, &out); err != nil {
		return nil, fmt.Errorf("create ad: %w", err)
	}
	return &out, nil
}

// PauseCampaign sets a campaign status to PAUSED.
func (c *Client) PauseCampaign(ctx context.Context, campaignID, token string) error {
	if err := c.post(ctx, "campaign_update", "/"+campaignID, token, map[string]any{"status": "PAUSED"}, nil); err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}
	return nil
}

// UpdateAdSetBudget changes the daily budget (cents) of an ad set.
func (c *Client) UpdateAdSetBudget(ctx context.Context, adSetID, token string, dailyBudgetCents int64) error {
	if err := c.post(ctx, "adset_update", "/"+adSetID, token, map[string]any{"daily_budget": dailyBudgetCents}, nil); err != nil {
		return fmt.Errorf("update ad set budget: %w", err)
	}
	return nil
}

// DeleteObject removes a Graph object such as a campaign.
func (c *Client) DeleteObject(ctx context.Context, objectID, token string) error {
	q := url.Values{}
	q.Set("access_token", token)
	if err := c.do(ctx, "delete", http.MethodDelete, "/"+objectID+"?"+q.Encode(), nil, nil); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DateRange bounds an insights query with YYYY-MM-DD dates.
type DateRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// ActionValue is a typed metric entry such as actions or cost_per_action_type.
type ActionValue struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

// Insight is a single row of campaign insights. Graph returns numbers as strings.
type Insight struct {
	Spend             string        `json:"spend"`
	Impressions       string        `json:"impressions"`
	Reach             string        `json:"reach"`
	Clicks            string        `json:"clicks"`
	CTR               string        `json:"ctr"`
	Actions           []ActionValue `json:"actions,omitempty"`
	CostPerActionType []ActionValue `json:"cost_per_action_type,omitempty"`
	PurchaseROAS      []ActionValue `json:"purchase_roas,omitempty"`
	DateStart         string        `json:"date_start"`
	DateStop          string        `json:"date_stop"`
}

// CampaignInsights fetches delivery metrics for a campaign over a date range. A zero
// range asks for the last 30 days.
func (c *Client) CampaignInsights(ctx context.Context, campaignID, token string, dateRange DateRange) ([]Insight, error) {
	q := url.Values{}
	q.Set("fields", "spend,impressions,reach,clicks,ctr,actions,cost_per_action_type,purchase_roas")
	if dateRange.Since == "" || dateRange.Until == "" {
		q.Set("date_preset", "last_30d")
	} else {
		timeRange, err := json.Marshal(dateRange)
		if err != nil {
			return nil, fmt.Errorf("encode time range: %w", err)
		}
		q.Set("time_range", string(timeRange))
	}
	var env listEnvelope[Insight]
	if err := c.get(ctx, "insights", "/"+campaignID+"/insights", token, q, &env); err != nil {
		return nil, fmt.Errorf("fetch campaign insights: %w", err)
	}
	if env.Data == nil {
		return []Insight{}, nil
	}
	return env.Data, nil
}

func (c *Client) get(ctx context.Context, label, endpoint, token string, q url.Values, dest any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("access_token", token)
	return c.do(ctx, label, http.MethodGet, endpoint+"?"+q.Encode(), nil, dest)
}

func (c *Client) post(ctx context.Context, label, endpoint, token string, payload any, dest any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	// Graph reads access_token from the body alongside the object fields.
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	fields["access_token"] = token
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, label, http.MethodPost, endpoint, bytes.NewReader(body), dest)
}

func (c *Client) do(ctx context.Context, label, method, endpoint string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aigency/graph-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GraphRequests.WithLabelValues(label, "error").Inc()
		}
		return fmt.Errorf("graph request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.GraphRequests.WithLabelValues(label, statusLabel).Inc()
		c.metrics.GraphLatency.WithLabelValues(label, statusLabel).Observe(time.Since(start).Seconds())
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		gerr := classifyHTTPError(res.StatusCode, bodyBytes)
		c.logger.Warn("graph request failed", "endpoint", label, "status", res.StatusCode, "error", gerr)
		return gerr
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyHTTPError(status int, body []byte) error {
	var env struct {
		Error struct {
			Message   string `json:"message"`
			Type      string `json:"type"`
			Code      int    `json:"code"`
			FBTraceID string `json:"fbtrace_id"`
		} `json:"error"`
	}
	gerr := &GraphError{Status: status}
	if err := json.Unmarshal(body, &env); err == nil {
		gerr.Message = env.Error.Message
		gerr.Type = env.Error.Type
		gerr.Code = env.Error.Code
		gerr.FBTraceID = env.Error.FBTraceID
	}
	if gerr.Message == "" {
		gerr.Message = strings.TrimSpace(string(body))
	}
	// Code 190 is Graph's OAuthException for expired or invalid tokens.
	if gerr.Code == 190 {
		return fmt.Errorf("%w: %w", ErrInvalidToken, gerr)
	}
	return gerr
}

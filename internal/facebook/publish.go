package facebook

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AdCopy is one ad variation of a campaign plan.
type AdCopy struct {
	Headline     string
	PrimaryText  string
	CallToAction string
}

// CampaignPlan is everything needed to publish a planned campaign to an ad account.
type CampaignPlan struct {
	Name             string
	Objective        string
	DailyBudgetCents int64
	DurationDays     int
	Countries        []string
	AgeMin           int
	AgeMax           int
	Ads              []AdCopy
	// PageID and Link are both required to create creatives and ads.
	PageID string
	Link   string
}

// PublishResult lists the Graph objects created for a plan.
type PublishResult struct {
	CampaignID  string   `json:"campaignId"`
	AdSetID     string   `json:"adSetId"`
	CreativeIDs []string `json:"creativeIds"`
	AdIDs       []string `json:"adIds"`
}

var optimizationGoals = map[string]string{
	"OUTCOME_TRAFFIC":       "LINK_CLICKS",
	"OUTCOME_AWARENESS":     "REACH",
	"OUTCOME_ENGAGEMENT":    "POST_ENGAGEMENT",
	"OUTCOME_LEADS":         "LEAD_GENERATION",
	"OUTCOME_SALES":         "OFFSITE_CONVERSIONS",
	"OUTCOME_APP_PROMOTION": "APP_INSTALLS",
}

// OptimizationGoal maps a campaign objective to the ad set optimization goal.
func OptimizationGoal(objective string) string {
	if goal, ok := optimizationGoals[objective]; ok {
		return goal
	}
	return "LINK_CLICKS"
}

// PublishCampaign creates a PAUSED campaign and ad set for plan, plus one creative and
// ad per variation when a page and link are given. A failure after the campaign exists
// deletes the campaign so no half-built structure is left behind.
func (c *Client) PublishCampaign(ctx context.Context, accountID, token string, plan CampaignPlan) (*PublishResult, error) {
	if !strings.HasPrefix(accountID, "act_") {
		accountID = "act_" + accountID
	}

	campaign, err := c.CreateCampaign(ctx, accountID, token, CampaignParams{
		Name:      plan.Name,
		Objective: plan.Objective,
		Status:    "PAUSED",
	})
	if err != nil {
		return nil, err
	}
	result := &PublishResult{CampaignID: campaign.ID, CreativeIDs: []string{}, AdIDs: []string{}}

	if err := c.publishChildren(ctx, accountID, token, plan, result); err != nil {
		if delErr := c.DeleteObject(context.WithoutCancel(ctx), campaign.ID, token); delErr != nil {
			c.logger.Warn("cleanup campaign failed", "campaign_id", campaign.ID, "error", delErr)
		}
		return nil, err
	}

	c.logger.Info("campaign published", "account_id", accountID, "campaign_id", result.CampaignID, "ads", len(result.AdIDs))
	return result, nil
}

func (c *Client) publishChildren(ctx context.Context, accountID, token string, plan CampaignPlan, result *PublishResult) error {
	countries := plan.Countries
	if len(countries) == 0 {
		countries = []string{"US"}
	}

	start := time.Now().UTC().Add(time.Hour)
	params := AdSetParams{
		Name:             plan.Name + " - Ad Set",
		CampaignID:       result.CampaignID,
		DailyBudget:      plan.DailyBudgetCents,
		BillingEvent:     "IMPRESSIONS",
		OptimizationGoal: OptimizationGoal(plan.Objective),
		BidStrategy:      "LOWEST_COST_WITHOUT_CAP",
		Status:           "PAUSED",
		Targeting: Targeting{
			GeoLocations: GeoLocations{Countries: countries},
			AgeMin:       plan.AgeMin,
			AgeMax:       plan.AgeMax,
		},
		StartTime: start.Format(time.RFC3339),
	}
	if plan.DurationDays > 0 {
		params.EndTime = start.Add(time.Duration(plan.DurationDays) * 24 * time.Hour).Format(time.RFC3339)
	}
	adSet, err := c.CreateAdSet(ctx, accountID, token, params)
	if err != nil {
		return err
	}
	result.AdSetID = adSet.ID

	if plan.PageID == "" || plan.Link == "" {
		return nil
	}

	for i, ad := range plan.Ads {
		name := fmt.Sprintf("%s - Variation %d", plan.Name, i+1)
		creative, err := c.CreateAdCreative(ctx, accountID, token, CreativeParams{
			Name:         name,
			PageID:       plan.PageID,
			Link:         plan.Link,
			Message:      ad.PrimaryText,
			Headline:     ad.Headline,
			CallToAction: ad.CallToAction,
		})
		if err != nil {
			return err
		}
		result.CreativeIDs = append(result.CreativeIDs, creative.ID)

		created, err := c.CreateAd(ctx, accountID, token, AdParams{
			Name:       name,
			AdSetID:    adSet.ID,
			CreativeID: creative.ID,
			Status:     "PAUSED",
		})
		if err != nil {
			return err
		}
		result.AdIDs = append(result.AdIDs, created.ID)
	}
	return nil
}

// CountryCodes extracts ISO country codes from free-form locations. Entries that are
// not two-letter codes are ignored; common country names are mapped.
func CountryCodes(locations []string) []string {
	seen := map[string]bool{}
	var codes []string
	for _, loc := range locations {
		code := countryCode(loc)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

var countryNames = map[string]string{
	"united states":  "US",
	"usa":            "US",
	"united kingdom": "GB",
	"uk":             "GB",
	"canada":         "CA",
	"australia":      "AU",
	"germany":        "DE",
	"france":         "FR",
	"czech republic": "CZ",
	"czechia":        "CZ",
	"indonesia":      "ID",
	"india":          "IN",
	"spain":          "ES",
	"italy":          "IT",
	"netherlands":    "NL",
}

func countryCode(location string) string {
	trimmed := strings.TrimSpace(location)
	if len(trimmed) == 2 && strings.ToUpper(trimmed) == trimmed {
		return trimmed
	}
	lower := strings.ToLower(trimmed)
	if code, ok := countryNames[lower]; ok {
		return code
	}
	// "Austin, USA" style entries carry the country last.
	if idx := strings.LastIndex(lower, ","); idx >= 0 {
		return countryNames[strings.TrimSpace(lower[idx+1:])]
	}
	return ""
}

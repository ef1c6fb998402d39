package facebook

import (
	"strings"

	"golang.org/x/oauth2"
)

// Scope sets requested from Facebook for the different flows.
var (
	LoginScopes   = []string{"email", "public_profile"}
	AdsScopes     = []string{"ads_management", "ads_read", "business_management", "pages_read_engagement"}
	ConnectScopes = []string{"email", "public_profile", "ads_management", "ads_read", "read_insights", "pages_show_list"}
)

// OAuthConfig describes the Facebook app used for OAuth flows.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// DialogBase is the www host, GraphBase the Graph host; both default to production.
	DialogBase string
	GraphBase  string
	Version    string
}

// Endpoint returns the versioned Facebook OAuth endpoint.
func (c OAuthConfig) Endpoint() oauth2.Endpoint {
	dialog := strings.TrimRight(c.DialogBase, "/")
	if dialog == "" {
		dialog = "https://www.facebook.com"
	}
	graph := strings.TrimRight(c.GraphBase, "/")
	if graph == "" {
		graph = "https://graph.facebook.com"
	}
	version := strings.Trim(c.Version, "/")
	if version == "" {
		version = "v21.0"
	}
	return oauth2.Endpoint{
		AuthURL:   dialog + "/" + version + "/dialog/oauth",
		TokenURL:  graph + "/" + version + "/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuth2 builds an oauth2.Config for a callback URL and scope set.
func (c OAuthConfig) OAuth2(redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       append([]string(nil), scopes...),
	}
}

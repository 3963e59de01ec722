package oauth

import (
	"net/url"
	"strings"
)

const FlowAuthCode = "auth_code"

// Declaration describes a provider's OAuth endpoints.
type Declaration struct {
	Provider     string
	Flow         string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scope        string
}

// ThermoSmartDeclaration derives the ThermoSmart endpoints from the API base URL.
func ThermoSmartDeclaration(baseURL, redirectURL string) Declaration {
	base := strings.TrimRight(baseURL, "/")
	return Declaration{
		Provider:     "thermosmart",
		Flow:         FlowAuthCode,
		AuthorizeURL: base + "/oauth2/authorize",
		TokenURL:     base + "/oauth2/token",
		RedirectURL:  redirectURL,
	}
}

// RedirectHost returns the host of the redirect URL, or "" when it does not
// parse.
func (d Declaration) RedirectHost() string {
	u, err := url.Parse(d.RedirectURL)
	if err != nil {
		return ""
	}
	return u.Host
}

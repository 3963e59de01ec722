package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrAuthExchangeFailed is returned when the authorization code cannot be
// turned into device credentials. Pairing is not retried.
var ErrAuthExchangeFailed = errors.New("auth exchange failed")

// Pairing is the result of a successful code exchange.
type Pairing struct {
	DeviceID    string
	AccessToken string
}

// Exchanger runs the authorization code flow against the vendor.
type Exchanger struct {
	decl       Declaration
	config     *oauth2.Config
	httpClient *http.Client
}

func NewExchanger(decl Declaration, clientID, clientSecret string) (*Exchanger, error) {
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	return &Exchanger{
		decl:       decl,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  decl.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   decl.AuthorizeURL,
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}, nil
}

// WithHTTPClient replaces the client used for the token request.
func (e *Exchanger) WithHTTPClient(client *http.Client) *Exchanger {
	if client != nil {
		e.httpClient = client
	}
	return e
}

// AuthCodeURL returns the browser URL that starts pairing.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state)
}

// RedirectURL is where the vendor sends the browser back to.
func (e *Exchanger) RedirectURL() string {
	return e.config.RedirectURL
}

// Exchange trades an authorization code for the thermostat id and its token.
func (e *Exchanger) Exchange(ctx context.Context, code string) (Pairing, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		exchangeTotal.WithLabelValues("error").Inc()
		return Pairing{}, fmt.Errorf("%w: empty code", ErrAuthExchangeFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		exchangeTotal.WithLabelValues("error").Inc()
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return Pairing{}, fmt.Errorf("%w: %d: %s", ErrAuthExchangeFailed, retrieveErr.Response.StatusCode, body)
		}
		return Pairing{}, fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}

	deviceID := extraString(token.Extra("thermostat"))
	if deviceID == "" {
		exchangeTotal.WithLabelValues("error").Inc()
		return Pairing{}, fmt.Errorf("%w: token response missing thermostat", ErrAuthExchangeFailed)
	}
	exchangeTotal.WithLabelValues("ok").Inc()
	return Pairing{DeviceID: deviceID, AccessToken: token.AccessToken}, nil
}

func extraString(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

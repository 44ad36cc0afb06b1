package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Grant is the result of an authorization-code or refresh-token grant.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// OAuth wraps the Twitch OAuth2 endpoints for user (bot account) tokens.
type OAuth struct {
	Config     *oauth2.Config
	HTTPClient *http.Client
}

// NewOAuth returns an OAuth helper for the Twitch endpoint.
func NewOAuth(clientID, clientSecret, redirectURI string, scopes []string) *OAuth {
	return &OAuth{Config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     twitch.Endpoint,
	}}
}

func (o *OAuth) ctx(ctx context.Context) context.Context {
	if o.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
	}
	return ctx
}

// AuthorizeURL constructs the user authorization URL for the code grant.
// force_verify makes Twitch show the consent screen again so newly added
// scopes are granted.
func (o *OAuth) AuthorizeURL(state string) (string, error) {
	if o.Config.ClientID == "" || o.Config.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return o.Config.AuthCodeURL(state, oauth2.SetAuthURLParam("force_verify", "true")), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func (o *OAuth) ExchangeAuthCode(ctx context.Context, code string) (*Grant, error) {
	if o.Config.ClientID == "" || o.Config.ClientSecret == "" || code == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	tok, err := o.Config.Exchange(o.ctx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return grantFrom(tok), nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (o *OAuth) RefreshToken(ctx context.Context, refreshToken string) (*Grant, error) {
	if o.Config.ClientID == "" || o.Config.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	tok, err := o.Config.TokenSource(o.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	g := grantFrom(tok)
	if g.RefreshToken == "" {
		g.RefreshToken = refreshToken
	}
	return g, nil
}

func grantFrom(tok *oauth2.Token) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopesFromExtra(tok.Extra("scope")),
	}
	if g.Expiry.IsZero() {
		g.Expiry = ComputeExpiry(0)
	}
	return g
}

// Twitch returns scope as a JSON array; other providers use a space separated string.
func scopesFromExtra(v interface{}) []string {
	var out []string
	switch s := v.(type) {
	case []interface{}:
		for _, x := range s {
			if str, ok := x.(string); ok && str != "" {
				out = append(out, str)
			}
		}
	case []string:
		out = append(out, s...)
	case string:
		out = strings.Fields(s)
	}
	sort.Strings(out)
	return out
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

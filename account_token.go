package authadapters

import (
	"time"

	"golang.org/x/oauth2"
)

// Token returns the OAuth2 token stored on the account. The id_token, if any,
// is attached as the "id_token" extra.
func (a *Account) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    a.TokenType,
	}
	if a.ExpiresAt != nil {
		tok.Expiry = time.Unix(*a.ExpiresAt, 0).UTC()
	}
	extra := map[string]any{}
	if a.IDToken != "" {
		extra["id_token"] = a.IDToken
	}
	if a.Scope != "" {
		extra["scope"] = a.Scope
	}
	if len(extra) > 0 {
		tok = tok.WithExtra(extra)
	}
	return tok
}

// AccountFromToken builds an oauth/oidc account from a token returned by
// an exchange. The account type is "oidc" when an id_token is present.
func AccountFromToken(userID, provider, providerAccountID string, tok *oauth2.Token) *Account {
	acct := &Account{
		UserID:            userID,
		Type:              "oauth",
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.Unix()
		acct.ExpiresAt = &exp
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		acct.IDToken = idToken
		acct.Type = "oidc"
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		acct.Scope = scope
	}
	return acct
}

package authadapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestAccountTokenRoundTrip(t *testing.T) {
	expiry := time.Unix(1_700_000_000, 0).UTC()
	tok := (&oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]any{"id_token": "idt", "scope": "openid email"})

	acct := AccountFromToken("u1", "google", "123", tok)
	assert.Equal(t, "oidc", acct.Type)
	assert.Equal(t, "idt", acct.IDToken)
	assert.Equal(t, "openid email", acct.Scope)
	assert.EqualValues(t, 1_700_000_000, *acct.ExpiresAt)
	assert.NoError(t, acct.Validate())

	back := acct.Token()
	assert.Equal(t, "at", back.AccessToken)
	assert.Equal(t, "rt", back.RefreshToken)
	assert.True(t, expiry.Equal(back.Expiry))
	assert.Equal(t, "idt", back.Extra("id_token"))
}

func TestAccountFromPlainOAuthToken(t *testing.T) {
	acct := AccountFromToken("u1", "github", "42", &oauth2.Token{AccessToken: "at"})
	assert.Equal(t, "oauth", acct.Type)
	assert.Nil(t, acct.ExpiresAt)
	assert.Empty(t, acct.Token().Extra("id_token"))
}

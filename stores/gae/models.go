//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	aa "github.com/panyam/authadapters"
)

// Kind constants for Datastore entities
const (
	KindUser              = "User"
	KindUserEmail         = "UserEmail"
	KindAccount           = "Account"
	KindSession           = "Session"
	KindVerificationToken = "VerificationToken"
	KindAuthenticator     = "Authenticator"
)

// timePtr maps the zero time, used for absent optional timestamps, to nil.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	n := aa.NormalizeTime(t)
	return &n
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func encodeExtra(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeExtra(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, aa.NewError("decodeExtra", aa.KindCodec, err)
	}
	return aa.ReviveExtra(m), nil
}

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	Name          string         `datastore:"name,noindex"`
	Email         string         `datastore:"email"`
	Image         string         `datastore:"image,noindex"`
	EmailVerified time.Time      `datastore:"email_verified,noindex"` // zero when unverified
	Extra         []byte         `datastore:"extra,noindex"`          // JSON encoded
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() (*aa.User, error) {
	extra, err := decodeExtra(e.Extra)
	if err != nil {
		return nil, err
	}
	return &aa.User{
		ID:            e.Key.Name,
		Name:          e.Name,
		Email:         e.Email,
		Image:         e.Image,
		EmailVerified: timePtr(e.EmailVerified),
		Extra:         extra,
	}, nil
}

func UserToEntity(u *aa.User, key *datastore.Key) (*UserEntity, error) {
	extra, err := encodeExtra(u.Extra)
	if err != nil {
		return nil, aa.NewError("UserToEntity", aa.KindCodec, err)
	}
	return &UserEntity{
		Key:           key,
		Name:          u.Name,
		Email:         u.Email,
		Image:         u.Image,
		EmailVerified: timeVal(u.EmailVerified),
		Extra:         extra,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// UserEmailEntity reserves an email for one user
// Key format: email
type UserEmailEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// AccountEntity is the Datastore entity for provider accounts
// Key format: provider + ":" + providerAccountId (escaped)
type AccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	UserID            string         `datastore:"user_id"`
	Type              string         `datastore:"type,noindex"`
	Provider          string         `datastore:"provider"`
	ProviderAccountID string         `datastore:"provider_account_id"`
	RefreshToken      string         `datastore:"refresh_token,noindex"`
	AccessToken       string         `datastore:"access_token,noindex"`
	ExpiresAt         int64          `datastore:"expires_at,noindex"` // unix seconds, 0 when unset
	TokenType         string         `datastore:"token_type,noindex"`
	Scope             string         `datastore:"scope,noindex"`
	IDToken           string         `datastore:"id_token,noindex"`
	SessionState      string         `datastore:"session_state,noindex"`
	Extra             []byte         `datastore:"extra,noindex"`
}

func (e *AccountEntity) ToAccount() (*aa.Account, error) {
	extra, err := decodeExtra(e.Extra)
	if err != nil {
		return nil, err
	}
	a := &aa.Account{
		UserID:            e.UserID,
		Type:              e.Type,
		Provider:          e.Provider,
		ProviderAccountID: e.ProviderAccountID,
		RefreshToken:      e.RefreshToken,
		AccessToken:       e.AccessToken,
		TokenType:         e.TokenType,
		Scope:             e.Scope,
		IDToken:           e.IDToken,
		SessionState:      e.SessionState,
		Extra:             extra,
	}
	if e.ExpiresAt != 0 {
		exp := e.ExpiresAt
		a.ExpiresAt = &exp
	}
	return a, nil
}

func AccountToEntity(a *aa.Account, key *datastore.Key) (*AccountEntity, error) {
	extra, err := encodeExtra(a.Extra)
	if err != nil {
		return nil, aa.NewError("AccountToEntity", aa.KindCodec, err)
	}
	e := &AccountEntity{
		Key:               key,
		UserID:            a.UserID,
		Type:              a.Type,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		RefreshToken:      a.RefreshToken,
		AccessToken:       a.AccessToken,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		SessionState:      a.SessionState,
		Extra:             extra,
	}
	if a.ExpiresAt != nil {
		e.ExpiresAt = *a.ExpiresAt
	}
	return e, nil
}

// SessionEntity is the Datastore entity for database sessions
type SessionEntity struct {
	Key     *datastore.Key `datastore:"__key__"`
	UserID  string         `datastore:"user_id"`
	Expires time.Time      `datastore:"expires"`
}

func (e *SessionEntity) ToSession() *aa.Session {
	s := &aa.Session{SessionToken: e.Key.Name, UserID: e.UserID, Expires: e.Expires}
	return s.Normalize()
}

// VerificationTokenEntity is the Datastore entity for single use tokens
// Key format: identifier + ":" + token (escaped)
type VerificationTokenEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Identifier string         `datastore:"identifier"`
	Token      string         `datastore:"token,noindex"`
	Expires    time.Time      `datastore:"expires"`
}

func (e *VerificationTokenEntity) ToVerificationToken() *aa.VerificationToken {
	v := &aa.VerificationToken{Identifier: e.Identifier, Token: e.Token, Expires: e.Expires}
	return v.Normalize()
}

// AuthenticatorEntity is the Datastore entity for WebAuthn credentials
type AuthenticatorEntity struct {
	Key                  *datastore.Key `datastore:"__key__"`
	UserID               string         `datastore:"user_id"`
	ProviderAccountID    string         `datastore:"provider_account_id"`
	CredentialPublicKey  string         `datastore:"credential_public_key,noindex"`
	Counter              int64          `datastore:"counter,noindex"`
	CredentialDeviceType string         `datastore:"credential_device_type,noindex"`
	CredentialBackedUp   bool           `datastore:"credential_backed_up,noindex"`
	Transports           string         `datastore:"transports,noindex"`
}

func (e *AuthenticatorEntity) ToAuthenticator() *aa.Authenticator {
	return &aa.Authenticator{
		CredentialID:         e.Key.Name,
		UserID:               e.UserID,
		ProviderAccountID:    e.ProviderAccountID,
		CredentialPublicKey:  e.CredentialPublicKey,
		Counter:              e.Counter,
		CredentialDeviceType: e.CredentialDeviceType,
		CredentialBackedUp:   e.CredentialBackedUp,
		Transports:           e.Transports,
	}
}

func AuthenticatorToEntity(a *aa.Authenticator, key *datastore.Key) *AuthenticatorEntity {
	return &AuthenticatorEntity{
		Key:                  key,
		UserID:               a.UserID,
		ProviderAccountID:    a.ProviderAccountID,
		CredentialPublicKey:  a.CredentialPublicKey,
		Counter:              a.Counter,
		CredentialDeviceType: a.CredentialDeviceType,
		CredentialBackedUp:   a.CredentialBackedUp,
		Transports:           a.Transports,
	}
}

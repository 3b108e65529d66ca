package mongo

import (
	"encoding/json"
	"time"

	aa "github.com/panyam/authadapters"
)

// Collection names
const (
	CollUsers              = "users"
	CollAccounts           = "accounts"
	CollSessions           = "sessions"
	CollVerificationTokens = "verification_tokens"
	CollAuthenticators     = "authenticators"
)

// Extras are stored as JSON text so dates inside them come back through the
// same ISO-8601 revival as every other adapter.
func encodeExtra(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", aa.NewError("encodeExtra", aa.KindCodec, err)
	}
	return string(data), nil
}

func decodeExtra(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, aa.NewError("decodeExtra", aa.KindCodec, err)
	}
	return aa.ReviveExtra(m), nil
}

type userDoc struct {
	ID            string     `bson:"_id"`
	Name          string     `bson:"name,omitempty"`
	Email         string     `bson:"email"`
	Image         string     `bson:"image,omitempty"`
	EmailVerified *time.Time `bson:"emailVerified"`
	Extra         string     `bson:"extra,omitempty"`
}

func userToDoc(u *aa.User) (*userDoc, error) {
	extra, err := encodeExtra(u.Extra)
	if err != nil {
		return nil, err
	}
	return &userDoc{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Image:         u.Image,
		EmailVerified: u.EmailVerified,
		Extra:         extra,
	}, nil
}

func (d *userDoc) toUser() (*aa.User, error) {
	extra, err := decodeExtra(d.Extra)
	if err != nil {
		return nil, err
	}
	u := &aa.User{
		ID:            d.ID,
		Name:          d.Name,
		Email:         d.Email,
		Image:         d.Image,
		EmailVerified: d.EmailVerified,
		Extra:         extra,
	}
	return u.Normalize(), nil
}

type accountDoc struct {
	ID                string `bson:"_id"` // provider:providerAccountId, escaped
	UserID            string `bson:"userId"`
	Type              string `bson:"type"`
	Provider          string `bson:"provider"`
	ProviderAccountID string `bson:"providerAccountId"`
	RefreshToken      string `bson:"refresh_token,omitempty"`
	AccessToken       string `bson:"access_token,omitempty"`
	ExpiresAt         *int64 `bson:"expires_at,omitempty"`
	TokenType         string `bson:"token_type,omitempty"`
	Scope             string `bson:"scope,omitempty"`
	IDToken           string `bson:"id_token,omitempty"`
	SessionState      string `bson:"session_state,omitempty"`
	Extra             string `bson:"extra,omitempty"`
}

func accountToDoc(id string, a *aa.Account) (*accountDoc, error) {
	extra, err := encodeExtra(a.Extra)
	if err != nil {
		return nil, err
	}
	return &accountDoc{
		ID:                id,
		UserID:            a.UserID,
		Type:              a.Type,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		RefreshToken:      a.RefreshToken,
		AccessToken:       a.AccessToken,
		ExpiresAt:         a.ExpiresAt,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		SessionState:      a.SessionState,
		Extra:             extra,
	}, nil
}

func (d *accountDoc) toAccount() (*aa.Account, error) {
	extra, err := decodeExtra(d.Extra)
	if err != nil {
		return nil, err
	}
	return &aa.Account{
		UserID:            d.UserID,
		Type:              d.Type,
		Provider:          d.Provider,
		ProviderAccountID: d.ProviderAccountID,
		RefreshToken:      d.RefreshToken,
		AccessToken:       d.AccessToken,
		ExpiresAt:         d.ExpiresAt,
		TokenType:         d.TokenType,
		Scope:             d.Scope,
		IDToken:           d.IDToken,
		SessionState:      d.SessionState,
		Extra:             extra,
	}, nil
}

type sessionDoc struct {
	ID      string    `bson:"_id"` // session token
	UserID  string    `bson:"userId"`
	Expires time.Time `bson:"expires"` // TTL index
}

func (d *sessionDoc) toSession() *aa.Session {
	s := &aa.Session{SessionToken: d.ID, UserID: d.UserID, Expires: d.Expires}
	return s.Normalize()
}

type verificationTokenDoc struct {
	ID         string    `bson:"_id"` // identifier:token, escaped
	Identifier string    `bson:"identifier"`
	Token      string    `bson:"token"`
	Expires    time.Time `bson:"expires"` // TTL index
}

func (d *verificationTokenDoc) toVerificationToken() *aa.VerificationToken {
	v := &aa.VerificationToken{Identifier: d.Identifier, Token: d.Token, Expires: d.Expires}
	return v.Normalize()
}

type authenticatorDoc struct {
	ID                   string `bson:"_id"` // credential id
	UserID               string `bson:"userId"`
	ProviderAccountID    string `bson:"providerAccountId"`
	CredentialPublicKey  string `bson:"credentialPublicKey"`
	Counter              int64  `bson:"counter"`
	CredentialDeviceType string `bson:"credentialDeviceType"`
	CredentialBackedUp   bool   `bson:"credentialBackedUp"`
	Transports           string `bson:"transports,omitempty"`
}

func authenticatorToDoc(a *aa.Authenticator) *authenticatorDoc {
	return &authenticatorDoc{
		ID:                   a.CredentialID,
		UserID:               a.UserID,
		ProviderAccountID:    a.ProviderAccountID,
		CredentialPublicKey:  a.CredentialPublicKey,
		Counter:              a.Counter,
		CredentialDeviceType: a.CredentialDeviceType,
		CredentialBackedUp:   a.CredentialBackedUp,
		Transports:           a.Transports,
	}
}

func (d *authenticatorDoc) toAuthenticator() *aa.Authenticator {
	return &aa.Authenticator{
		CredentialID:         d.ID,
		UserID:               d.UserID,
		ProviderAccountID:    d.ProviderAccountID,
		CredentialPublicKey:  d.CredentialPublicKey,
		Counter:              d.Counter,
		CredentialDeviceType: d.CredentialDeviceType,
		CredentialBackedUp:   d.CredentialBackedUp,
		Transports:           d.Transports,
	}
}

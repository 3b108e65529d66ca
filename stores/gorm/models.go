//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	aa "github.com/panyam/authadapters"
)

// JSONMap stores a free-form map as a JSON column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	// a fresh map, so keys of a previously scanned row do not survive
	var fresh map[string]any
	if err := json.Unmarshal(data, &fresh); err != nil {
		return err
	}
	*m = fresh
	return nil
}

// UserModel is the GORM model for users
type UserModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:255"`
	Email         string `gorm:"size:320;uniqueIndex"`
	Image         string `gorm:"size:2048"`
	EmailVerified *time.Time
	Extra         JSONMap   `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *aa.User {
	u := &aa.User{
		ID:            m.ID,
		Name:          m.Name,
		Email:         m.Email,
		Image:         m.Image,
		EmailVerified: m.EmailVerified,
		Extra:         aa.ReviveExtra(m.Extra),
	}
	return u.Normalize()
}

func UserToModel(u *aa.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Image:         u.Image,
		EmailVerified: u.EmailVerified,
		Extra:         JSONMap(u.Extra),
	}
}

// AccountModel is the GORM model for provider accounts
type AccountModel struct {
	Provider          string `gorm:"primaryKey;size:64"`
	ProviderAccountID string `gorm:"primaryKey;size:255"`
	UserID            string `gorm:"size:64;index"`
	Type              string `gorm:"size:32"`
	RefreshToken      string `gorm:"type:text"`
	AccessToken       string `gorm:"type:text"`
	ExpiresAt         *int64
	TokenType         string    `gorm:"size:32"`
	Scope             string    `gorm:"type:text"`
	IDToken           string    `gorm:"type:text"`
	SessionState      string    `gorm:"size:255"`
	Extra             JSONMap   `gorm:"type:jsonb"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *aa.Account {
	return &aa.Account{
		UserID:            m.UserID,
		Type:              m.Type,
		Provider:          m.Provider,
		ProviderAccountID: m.ProviderAccountID,
		RefreshToken:      m.RefreshToken,
		AccessToken:       m.AccessToken,
		ExpiresAt:         m.ExpiresAt,
		TokenType:         m.TokenType,
		Scope:             m.Scope,
		IDToken:           m.IDToken,
		SessionState:      m.SessionState,
		Extra:             aa.ReviveExtra(m.Extra),
	}
}

func AccountToModel(a *aa.Account) *AccountModel {
	return &AccountModel{
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		UserID:            a.UserID,
		Type:              a.Type,
		RefreshToken:      a.RefreshToken,
		AccessToken:       a.AccessToken,
		ExpiresAt:         a.ExpiresAt,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		SessionState:      a.SessionState,
		Extra:             JSONMap(a.Extra),
	}
}

// SessionModel is the GORM model for database sessions
type SessionModel struct {
	SessionToken string    `gorm:"primaryKey;size:255"`
	UserID       string    `gorm:"size:64;index"`
	Expires      time.Time `gorm:"index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSession() *aa.Session {
	s := &aa.Session{SessionToken: m.SessionToken, UserID: m.UserID, Expires: m.Expires}
	return s.Normalize()
}

func SessionToModel(s *aa.Session) *SessionModel {
	return &SessionModel{SessionToken: s.SessionToken, UserID: s.UserID, Expires: s.Expires}
}

// VerificationTokenModel is the GORM model for single use tokens
type VerificationTokenModel struct {
	Identifier string    `gorm:"primaryKey;size:320"`
	Token      string    `gorm:"primaryKey;size:255"`
	Expires    time.Time `gorm:"index"`
}

func (VerificationTokenModel) TableName() string {
	return "verification_tokens"
}

func (m *VerificationTokenModel) ToVerificationToken() *aa.VerificationToken {
	v := &aa.VerificationToken{Identifier: m.Identifier, Token: m.Token, Expires: m.Expires}
	return v.Normalize()
}

func VerificationTokenToModel(v *aa.VerificationToken) *VerificationTokenModel {
	return &VerificationTokenModel{Identifier: v.Identifier, Token: v.Token, Expires: v.Expires}
}

// AuthenticatorModel is the GORM model for WebAuthn credentials
type AuthenticatorModel struct {
	CredentialID         string `gorm:"primaryKey;size:255"`
	UserID               string `gorm:"size:64;index"`
	ProviderAccountID    string `gorm:"size:255"`
	CredentialPublicKey  string `gorm:"type:text"`
	Counter              int64
	CredentialDeviceType string    `gorm:"size:32"`
	CredentialBackedUp   bool      `gorm:"default:false"`
	Transports           string    `gorm:"size:255"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
}

func (AuthenticatorModel) TableName() string {
	return "authenticators"
}

func (m *AuthenticatorModel) ToAuthenticator() *aa.Authenticator {
	return &aa.Authenticator{
		CredentialID:         m.CredentialID,
		UserID:               m.UserID,
		ProviderAccountID:    m.ProviderAccountID,
		CredentialPublicKey:  m.CredentialPublicKey,
		Counter:              m.Counter,
		CredentialDeviceType: m.CredentialDeviceType,
		CredentialBackedUp:   m.CredentialBackedUp,
		Transports:           m.Transports,
	}
}

func AuthenticatorToModel(a *aa.Authenticator) *AuthenticatorModel {
	return &AuthenticatorModel{
		CredentialID:         a.CredentialID,
		UserID:               a.UserID,
		ProviderAccountID:    a.ProviderAccountID,
		CredentialPublicKey:  a.CredentialPublicKey,
		Counter:              a.Counter,
		CredentialDeviceType: a.CredentialDeviceType,
		CredentialBackedUp:   a.CredentialBackedUp,
		Transports:           a.Transports,
	}
}

package authadapters

import (
	"time"
)

// User is a person who can sign in. Email is unique across users.
type User struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Email         string         `json:"email"`
	Image         string         `json:"image,omitempty"`
	EmailVerified *time.Time     `json:"emailVerified"`
	Extra         map[string]any `json:"extra,omitempty"` // provider specific profile fields
}

// Account links a User to an identity at an OAuth/OIDC/email provider.
// The (Provider, ProviderAccountID) pair identifies an account.
type Account struct {
	UserID            string         `json:"userId"`
	Type              string         `json:"type"` // "oauth", "oidc", "email", "webauthn"
	Provider          string         `json:"provider"`
	ProviderAccountID string         `json:"providerAccountId"`
	RefreshToken      string         `json:"refresh_token,omitempty"`
	AccessToken       string         `json:"access_token,omitempty"`
	ExpiresAt         *int64         `json:"expires_at,omitempty"` // unix seconds
	TokenType         string         `json:"token_type,omitempty"`
	Scope             string         `json:"scope,omitempty"`
	IDToken           string         `json:"id_token,omitempty"`
	SessionState      string         `json:"session_state,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Session is a database session identified by its token.
type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

// VerificationToken is a single use token (magic links, email verification).
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// Authenticator is a WebAuthn credential registered by a user.
type Authenticator struct {
	CredentialID         string `json:"credentialID"`
	UserID               string `json:"userId"`
	ProviderAccountID    string `json:"providerAccountId"`
	CredentialPublicKey  string `json:"credentialPublicKey"`
	Counter              int64  `json:"counter"`
	CredentialDeviceType string `json:"credentialDeviceType"`
	CredentialBackedUp   bool   `json:"credentialBackedUp"`
	Transports           string `json:"transports,omitempty"`
}

// AccountRef addresses an Account by its composite identity.
type AccountRef struct {
	Provider          string
	ProviderAccountID string
}

// VerificationTokenRef addresses a VerificationToken by its composite identity.
type VerificationTokenRef struct {
	Identifier string
	Token      string
}

// SessionAndUser is the result of a session lookup.
type SessionAndUser struct {
	Session *Session
	User    *User
}

// UserPatch is a partial update of a User. Nil fields are left unchanged.
type UserPatch struct {
	ID            string
	Name          *string
	Email         *string
	Image         *string
	EmailVerified *time.Time

	// ClearEmailVerified sets EmailVerified back to null. It wins over EmailVerified.
	ClearEmailVerified bool

	// Extra keys are merged into the existing extras. A nil value removes the key.
	Extra map[string]any
}

// SessionPatch is a partial update of a Session. Nil fields are left unchanged.
type SessionPatch struct {
	SessionToken string
	UserID       *string
	Expires      *time.Time
}

// Ref returns the composite identity of the account.
func (a *Account) Ref() AccountRef {
	return AccountRef{Provider: a.Provider, ProviderAccountID: a.ProviderAccountID}
}

// Ref returns the composite identity of the token.
func (v *VerificationToken) Ref() VerificationTokenRef {
	return VerificationTokenRef{Identifier: v.Identifier, Token: v.Token}
}

// NormalizeTime converts t to UTC at millisecond precision, the finest
// precision every supported medium preserves.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := NormalizeTime(*t)
	return &n
}

// Normalize brings timestamps into their stored form.
func (u *User) Normalize() *User {
	u.EmailVerified = normalizeTimePtr(u.EmailVerified)
	return u
}

// Normalize brings timestamps into their stored form.
func (s *Session) Normalize() *Session {
	s.Expires = NormalizeTime(s.Expires)
	return s
}

// Normalize brings timestamps into their stored form.
func (v *VerificationToken) Normalize() *VerificationToken {
	v.Expires = NormalizeTime(v.Expires)
	return v
}

// Validate checks required fields. An empty ID is allowed, CreateUser assigns one.
func (u *User) Validate() error {
	if u.Email == "" {
		return missing("user", "email")
	}
	return nil
}

func (a *Account) Validate() error {
	switch {
	case a.UserID == "":
		return missing("account", "userId")
	case a.Provider == "":
		return missing("account", "provider")
	case a.ProviderAccountID == "":
		return missing("account", "providerAccountId")
	case a.Type == "":
		return missing("account", "type")
	}
	return nil
}

func (s *Session) Validate() error {
	switch {
	case s.SessionToken == "":
		return missing("session", "sessionToken")
	case s.UserID == "":
		return missing("session", "userId")
	case s.Expires.IsZero():
		return missing("session", "expires")
	}
	return nil
}

func (v *VerificationToken) Validate() error {
	switch {
	case v.Identifier == "":
		return missing("verification token", "identifier")
	case v.Token == "":
		return missing("verification token", "token")
	case v.Expires.IsZero():
		return missing("verification token", "expires")
	}
	return nil
}

func (a *Authenticator) Validate() error {
	switch {
	case a.CredentialID == "":
		return missing("authenticator", "credentialID")
	case a.UserID == "":
		return missing("authenticator", "userId")
	case a.ProviderAccountID == "":
		return missing("authenticator", "providerAccountId")
	case a.CredentialPublicKey == "":
		return missing("authenticator", "credentialPublicKey")
	}
	return nil
}

func (r AccountRef) Validate() error {
	switch {
	case r.Provider == "":
		return missing("account ref", "provider")
	case r.ProviderAccountID == "":
		return missing("account ref", "providerAccountId")
	}
	return nil
}

func (r VerificationTokenRef) Validate() error {
	switch {
	case r.Identifier == "":
		return missing("verification token ref", "identifier")
	case r.Token == "":
		return missing("verification token ref", "token")
	}
	return nil
}

func (p *UserPatch) Validate() error {
	if p.ID == "" {
		return missing("user patch", "id")
	}
	if p.Email != nil && *p.Email == "" {
		return missing("user patch", "email")
	}
	return nil
}

func (p *SessionPatch) Validate() error {
	if p.SessionToken == "" {
		return missing("session patch", "sessionToken")
	}
	if p.UserID != nil && *p.UserID == "" {
		return missing("session patch", "userId")
	}
	return nil
}

// Apply merges the patch into u.
func (p *UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Image != nil {
		u.Image = *p.Image
	}
	if p.EmailVerified != nil {
		t := NormalizeTime(*p.EmailVerified)
		u.EmailVerified = &t
	}
	if p.ClearEmailVerified {
		u.EmailVerified = nil
	}
	for k, v := range p.Extra {
		if v == nil {
			delete(u.Extra, k)
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		u.Extra[k] = v
	}
}

// Apply merges the patch into s.
func (p *SessionPatch) Apply(s *Session) {
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.Expires != nil {
		s.Expires = NormalizeTime(*p.Expires)
	}
}

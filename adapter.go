package authadapters

import "context"

// Adapter is the storage contract consumed by the authentication framework.
//
// Lookups that find nothing return a nil record and a nil error; "not found"
// is an ordinary outcome. Every other failure is a *StorageError.
type Adapter interface {
	// CreateUser stores a new user. An empty ID is replaced with a random UUID.
	CreateUser(ctx context.Context, user *User) (*User, error)

	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, ref AccountRef) (*User, error)

	// UpdateUser applies a partial update. Fails with KindNotFound if the user does not exist.
	UpdateUser(ctx context.Context, patch UserPatch) (*User, error)

	// DeleteUser removes the user with its sessions, accounts and authenticators.
	DeleteUser(ctx context.Context, id string) error

	LinkAccount(ctx context.Context, account *Account) (*Account, error)
	UnlinkAccount(ctx context.Context, ref AccountRef) error

	CreateSession(ctx context.Context, session *Session) (*Session, error)
	GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionAndUser, error)

	// UpdateSession applies a partial update and returns nil if the session does not exist.
	UpdateSession(ctx context.Context, patch SessionPatch) (*Session, error)
	DeleteSession(ctx context.Context, sessionToken string) error

	CreateVerificationToken(ctx context.Context, token *VerificationToken) (*VerificationToken, error)

	// UseVerificationToken returns the token and deletes it. A second call
	// for the same token returns nil.
	UseVerificationToken(ctx context.Context, ref VerificationTokenRef) (*VerificationToken, error)
}

// WebAuthnAdapter is implemented by adapters that can store passkeys.
type WebAuthnAdapter interface {
	Adapter

	GetAccount(ctx context.Context, ref AccountRef) (*Account, error)
	CreateAuthenticator(ctx context.Context, authenticator *Authenticator) (*Authenticator, error)
	GetAuthenticator(ctx context.Context, credentialID string) (*Authenticator, error)
	ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*Authenticator, error)

	// UpdateAuthenticatorCounter fails with KindNotFound if the credential does not exist.
	UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*Authenticator, error)
}

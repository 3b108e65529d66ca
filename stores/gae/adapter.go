//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	aa "github.com/panyam/authadapters"
)

// Adapter implements aa.WebAuthnAdapter using Google Cloud Datastore
type Adapter struct {
	client    *datastore.Client
	namespace string
	keys      aa.KeyEncoder
	logger    *zap.Logger
}

var _ aa.WebAuthnAdapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithNamespace stores every entity in the given Datastore namespace.
func WithNamespace(namespace string) Option {
	return func(a *Adapter) { a.namespace = namespace }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(client *datastore.Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = a.namespace
	return key
}

func (a *Adapter) accountKey(ref aa.AccountRef) *datastore.Key {
	return a.namespacedKey(KindAccount, a.keys.JoinParts(ref.Provider, ref.ProviderAccountID))
}

func (a *Adapter) tokenKey(ref aa.VerificationTokenRef) *datastore.Key {
	return a.namespacedKey(KindVerificationToken, a.keys.JoinParts(ref.Identifier, ref.Token))
}

func (a *Adapter) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if a.namespace != "" {
		q = q.Namespace(a.namespace)
	}
	return q
}

// get loads key into dst. Returns false if the entity does not exist.
func get(ctx context.Context, g interface {
	Get(context.Context, *datastore.Key, any) error
}, key *datastore.Key, dst any) (bool, error) {
	err := g.Get(ctx, key, dst)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	return err == nil, err
}

// txGet is get inside a transaction.
func txGet(tx *datastore.Transaction, key *datastore.Key, dst any) (bool, error) {
	err := tx.Get(key, dst)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	return err == nil, err
}

// ============================================================================
// Users
// ============================================================================

func (a *Adapter) CreateUser(ctx context.Context, user *aa.User) (*aa.User, error) {
	const op = "CreateUser"
	if user == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("user is nil"))
	}
	u := *user
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := u.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	u.Normalize()

	userKey := a.namespacedKey(KindUser, u.ID)
	emailKey := a.namespacedKey(KindUserEmail, u.Email)
	entity, err := UserToEntity(&u, userKey)
	if err != nil {
		return nil, err
	}
	_, err = a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		found, err := txGet(tx, userKey, &existing)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, fmt.Errorf("user id already exists: %s", u.ID))
		}
		var reservation UserEmailEntity
		found, err = txGet(tx, emailKey, &reservation)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, fmt.Errorf("email already registered: %s", u.Email))
		}
		if _, err := tx.Put(userKey, entity); err != nil {
			return err
		}
		_, err = tx.Put(emailKey, &UserEmailEntity{Key: emailKey, UserID: u.ID})
		return err
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return &u, nil
}

func (a *Adapter) loadUser(ctx context.Context, id string) (*aa.User, error) {
	var entity UserEntity
	found, err := get(ctx, a.client, a.namespacedKey(KindUser, id), &entity)
	if err != nil || !found {
		return nil, err
	}
	return entity.ToUser()
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*aa.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := a.loadUser(ctx, id)
	return u, aa.Backend("GetUser", err)
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*aa.User, error) {
	const op = "GetUserByEmail"
	if email == "" {
		return nil, nil
	}
	var reservation UserEmailEntity
	found, err := get(ctx, a.client, a.namespacedKey(KindUserEmail, email), &reservation)
	if err != nil || !found {
		return nil, aa.Backend(op, err)
	}
	u, err := a.loadUser(ctx, reservation.UserID)
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	if u == nil || u.Email != email {
		return nil, nil
	}
	return u, nil
}

func (a *Adapter) GetUserByAccount(ctx context.Context, ref aa.AccountRef) (*aa.User, error) {
	const op = "GetUserByAccount"
	acct, err := a.GetAccount(ctx, ref)
	if err != nil || acct == nil {
		return nil, err
	}
	u, err := a.loadUser(ctx, acct.UserID)
	return u, aa.Backend(op, err)
}

func (a *Adapter) UpdateUser(ctx context.Context, patch aa.UserPatch) (*aa.User, error) {
	const op = "UpdateUser"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	userKey := a.namespacedKey(KindUser, patch.ID)
	var out *aa.User
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		found, err := txGet(tx, userKey, &entity)
		if err != nil {
			return err
		}
		if !found {
			return aa.NewError(op, aa.KindNotFound, fmt.Errorf("user not found: %s", patch.ID))
		}
		u, err := entity.ToUser()
		if err != nil {
			return err
		}
		oldEmail := u.Email
		patch.Apply(u)
		u.Normalize()

		if u.Email != oldEmail {
			newKey := a.namespacedKey(KindUserEmail, u.Email)
			var reservation UserEmailEntity
			taken, err := txGet(tx, newKey, &reservation)
			if err != nil {
				return err
			}
			if taken && reservation.UserID != u.ID {
				return aa.NewError(op, aa.KindConflict, fmt.Errorf("email already registered: %s", u.Email))
			}
			if _, err := tx.Put(newKey, &UserEmailEntity{Key: newKey, UserID: u.ID}); err != nil {
				return err
			}
			if err := tx.Delete(a.namespacedKey(KindUserEmail, oldEmail)); err != nil {
				return err
			}
		}

		updated, err := UserToEntity(u, userKey)
		if err != nil {
			return err
		}
		if _, err := tx.Put(userKey, updated); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return out, nil
}

// userKeys returns the keys of all entities of kind owned by userID.
func (a *Adapter) userKeys(ctx context.Context, kind, userID string) ([]*datastore.Key, error) {
	q := a.query(kind).FilterField("user_id", "=", userID).KeysOnly()
	return a.client.GetAll(ctx, q, nil)
}

// maxBatch is the largest number of keys Datastore accepts in one DeleteMulti.
const maxBatch = 500

// deleteMulti deletes keys in batches of at most maxBatch.
func (a *Adapter) deleteMulti(ctx context.Context, keys []*datastore.Key) error {
	for _, batch := range chunk(keys, maxBatch) {
		if err := a.client.DeleteMulti(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	const op = "DeleteUser"
	if id == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("id is required"))
	}

	removed := 0
	for _, kind := range []string{KindSession, KindAccount, KindAuthenticator} {
		keys, err := a.userKeys(ctx, kind, id)
		if err != nil {
			return aa.Backend(op, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := a.deleteMulti(ctx, keys); err != nil {
			return aa.Backend(op, err)
		}
		removed += len(keys)
	}

	userKey := a.namespacedKey(KindUser, id)
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		found, err := txGet(tx, userKey, &entity)
		if err != nil || !found {
			return err
		}
		emailKey := a.namespacedKey(KindUserEmail, entity.Email)
		var reservation UserEmailEntity
		owned, err := txGet(tx, emailKey, &reservation)
		if err != nil {
			return err
		}
		if owned && reservation.UserID == id {
			if err := tx.Delete(emailKey); err != nil {
				return err
			}
		}
		return tx.Delete(userKey)
	})
	if err != nil {
		return aa.Backend(op, err)
	}
	a.logger.Debug("deleted user", zap.String("user_id", id), zap.Int("dependents", removed))
	return nil
}

// ============================================================================
// Accounts
// ============================================================================

func (a *Adapter) LinkAccount(ctx context.Context, account *aa.Account) (*aa.Account, error) {
	const op = "LinkAccount"
	if account == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("account is nil"))
	}
	acct := *account
	if err := acct.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.accountKey(acct.Ref())
	entity, err := AccountToEntity(&acct, key)
	if err != nil {
		return nil, err
	}
	_, err = a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		found, err := txGet(tx, key, &existing)
		if err != nil {
			return err
		}
		if found && existing.UserID != acct.UserID {
			return aa.NewError(op, aa.KindConflict, errors.New("account linked to another user"))
		}
		_, err = tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return &acct, nil
}

func (a *Adapter) UnlinkAccount(ctx context.Context, ref aa.AccountRef) error {
	const op = "UnlinkAccount"
	if err := ref.Validate(); err != nil {
		return aa.NewError(op, aa.KindInvalid, err)
	}
	return aa.Backend(op, a.client.Delete(ctx, a.accountKey(ref)))
}

func (a *Adapter) GetAccount(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	const op = "GetAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var entity AccountEntity
	found, err := get(ctx, a.client, a.accountKey(ref), &entity)
	if err != nil || !found {
		return nil, aa.Backend(op, err)
	}
	acct, err := entity.ToAccount()
	return acct, aa.Backend(op, err)
}

// ============================================================================
// Sessions
// ============================================================================

func (a *Adapter) CreateSession(ctx context.Context, session *aa.Session) (*aa.Session, error) {
	const op = "CreateSession"
	if session == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("session is nil"))
	}
	s := *session
	if err := s.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	s.Normalize()
	key := a.namespacedKey(KindSession, s.SessionToken)
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing SessionEntity
		found, err := txGet(tx, key, &existing)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, errors.New("session token already in use"))
		}
		_, err = tx.Put(key, &SessionEntity{Key: key, UserID: s.UserID, Expires: s.Expires})
		return err
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return &s, nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*aa.SessionAndUser, error) {
	const op = "GetSessionAndUser"
	if sessionToken == "" {
		return nil, nil
	}
	var entity SessionEntity
	found, err := get(ctx, a.client, a.namespacedKey(KindSession, sessionToken), &entity)
	if err != nil || !found {
		return nil, aa.Backend(op, err)
	}
	u, err := a.loadUser(ctx, entity.UserID)
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	if u == nil {
		a.logger.Warn("session references missing user", zap.String("user_id", entity.UserID))
		return nil, nil
	}
	return &aa.SessionAndUser{Session: entity.ToSession(), User: u}, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, patch aa.SessionPatch) (*aa.Session, error) {
	const op = "UpdateSession"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.namespacedKey(KindSession, patch.SessionToken)
	var out *aa.Session
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity SessionEntity
		found, err := txGet(tx, key, &entity)
		if err != nil || !found {
			return err
		}
		s := entity.ToSession()
		patch.Apply(s)
		if _, err := tx.Put(key, &SessionEntity{Key: key, UserID: s.UserID, Expires: s.Expires}); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return out, nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	const op = "DeleteSession"
	if sessionToken == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("sessionToken is required"))
	}
	return aa.Backend(op, a.client.Delete(ctx, a.namespacedKey(KindSession, sessionToken)))
}

// ============================================================================
// Verification tokens
// ============================================================================

func (a *Adapter) CreateVerificationToken(ctx context.Context, token *aa.VerificationToken) (*aa.VerificationToken, error) {
	const op = "CreateVerificationToken"
	if token == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("token is nil"))
	}
	vt := *token
	if err := vt.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	vt.Normalize()
	key := a.tokenKey(vt.Ref())
	entity := &VerificationTokenEntity{Key: key, Identifier: vt.Identifier, Token: vt.Token, Expires: vt.Expires}
	if _, err := a.client.Put(ctx, key, entity); err != nil {
		return nil, aa.Backend(op, err)
	}
	return &vt, nil
}

// UseVerificationToken reads and deletes the token in one transaction.
// Datastore aborts all but one of several concurrent transactions on the
// entity; the retried ones find it gone.
func (a *Adapter) UseVerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	const op = "UseVerificationToken"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.tokenKey(ref)
	var out *aa.VerificationToken
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		out = nil
		var entity VerificationTokenEntity
		found, err := txGet(tx, key, &entity)
		if err != nil || !found {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		out = entity.ToVerificationToken()
		return nil
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return out, nil
}

// ============================================================================
// Authenticators
// ============================================================================

func (a *Adapter) CreateAuthenticator(ctx context.Context, authenticator *aa.Authenticator) (*aa.Authenticator, error) {
	const op = "CreateAuthenticator"
	if authenticator == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("authenticator is nil"))
	}
	auth := *authenticator
	if err := auth.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.namespacedKey(KindAuthenticator, auth.CredentialID)
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AuthenticatorEntity
		found, err := txGet(tx, key, &existing)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, fmt.Errorf("credential already registered: %s", auth.CredentialID))
		}
		_, err = tx.Put(key, AuthenticatorToEntity(&auth, key))
		return err
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return &auth, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	if credentialID == "" {
		return nil, nil
	}
	var entity AuthenticatorEntity
	found, err := get(ctx, a.client, a.namespacedKey(KindAuthenticator, credentialID), &entity)
	if err != nil || !found {
		return nil, aa.Backend("GetAuthenticator", err)
	}
	return entity.ToAuthenticator(), nil
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*aa.Authenticator, error) {
	q := a.query(KindAuthenticator).FilterField("user_id", "=", userID)
	out := []*aa.Authenticator{}
	it := a.client.Run(ctx, q)
	for {
		var entity AuthenticatorEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, aa.Backend("ListAuthenticatorsByUserID", err)
		}
		out = append(out, entity.ToAuthenticator())
	}
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*aa.Authenticator, error) {
	const op = "UpdateAuthenticatorCounter"
	if credentialID == "" {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("credentialID is required"))
	}
	key := a.namespacedKey(KindAuthenticator, credentialID)
	var out *aa.Authenticator
	_, err := a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AuthenticatorEntity
		found, err := txGet(tx, key, &entity)
		if err != nil {
			return err
		}
		if !found {
			return aa.NewError(op, aa.KindNotFound, fmt.Errorf("authenticator not found: %s", credentialID))
		}
		entity.Counter = counter
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		out = entity.ToAuthenticator()
		return nil
	})
	if err != nil {
		return nil, aa.Backend(op, err)
	}
	return out, nil
}

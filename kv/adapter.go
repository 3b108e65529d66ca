package kv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	aa "github.com/panyam/authadapters"
)

// Adapter implements authadapters.WebAuthnAdapter on a key-value Store.
// It holds no state of its own besides the injected store.
type Adapter struct {
	store  Store
	keys   aa.KeyEncoder
	ix     *index
	logger *zap.Logger
}

var _ aa.WebAuthnAdapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithKeys sets the key encoder, for a key prefix or a medium specific alphabet.
func WithKeys(keys aa.KeyEncoder) Option {
	return func(a *Adapter) { a.keys = keys }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New creates an Adapter on store.
func New(store Store, opts ...Option) *Adapter {
	a := &Adapter{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.ix = &index{store: store}
	return a
}

// Keys returns the key encoder in use.
func (a *Adapter) Keys() aa.KeyEncoder { return a.keys }

// get decodes the value at key into v. Returns false if the key is absent.
func (a *Adapter) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := aa.Decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// put encodes v at key. A non zero expiresAt is handed to media that support expiry.
func (a *Adapter) put(ctx context.Context, key string, v any, expiresAt time.Time) error {
	data, err := aa.Encode(v)
	if err != nil {
		return err
	}
	if es, ok := a.store.(ExpiringStore); ok && !expiresAt.IsZero() {
		return es.SetWithExpiry(ctx, key, data, expiresAt)
	}
	return a.store.Set(ctx, key, data)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return aa.NewError(op, aa.KindBackend, err)
}

func (a *Adapter) loadUser(ctx context.Context, id string) (*aa.User, error) {
	var u aa.User
	ok, err := a.get(ctx, a.keys.User(id), &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// emailOwner returns the id of the live user owning email, or "".
func (a *Adapter) emailOwner(ctx context.Context, email string) (string, error) {
	id, err := a.ix.pointer(ctx, a.keys.UserByEmail(email))
	if err != nil || id == "" {
		return "", err
	}
	u, err := a.loadUser(ctx, id)
	if err != nil {
		return "", err
	}
	if u == nil || u.Email != email {
		a.logger.Debug("stale email pointer", zap.String("email", email), zap.String("user_id", id))
		return "", nil
	}
	return id, nil
}

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

	existing, err := a.loadUser(ctx, u.ID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if existing != nil {
		return nil, aa.NewError(op, aa.KindConflict, errors.New("user id already exists: "+u.ID))
	}
	owner, err := a.emailOwner(ctx, u.Email)
	if err != nil {
		return nil, wrap(op, err)
	}
	if owner != "" {
		return nil, aa.NewError(op, aa.KindConflict, errors.New("email already registered: "+u.Email))
	}

	if err := a.put(ctx, a.keys.User(u.ID), &u, time.Time{}); err != nil {
		return nil, wrap(op, err)
	}
	if err := a.ix.setPointer(ctx, a.keys.UserByEmail(u.Email), u.ID); err != nil {
		return nil, wrap(op, err)
	}
	return &u, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*aa.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := a.loadUser(ctx, id)
	return u, wrap("GetUser", err)
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*aa.User, error) {
	const op = "GetUserByEmail"
	if email == "" {
		return nil, nil
	}
	id, err := a.emailOwner(ctx, email)
	if err != nil || id == "" {
		return nil, wrap(op, err)
	}
	u, err := a.loadUser(ctx, id)
	return u, wrap(op, err)
}

func (a *Adapter) GetUserByAccount(ctx context.Context, ref aa.AccountRef) (*aa.User, error) {
	const op = "GetUserByAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var acct aa.Account
	ok, err := a.get(ctx, a.keys.Account(ref), &acct)
	if err != nil || !ok {
		return nil, wrap(op, err)
	}
	u, err := a.loadUser(ctx, acct.UserID)
	return u, wrap(op, err)
}

func (a *Adapter) UpdateUser(ctx context.Context, patch aa.UserPatch) (*aa.User, error) {
	const op = "UpdateUser"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	u, err := a.loadUser(ctx, patch.ID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if u == nil {
		return nil, aa.NewError(op, aa.KindNotFound, errors.New("user not found: "+patch.ID))
	}

	oldEmail := u.Email
	patch.Apply(u)
	u.Normalize()

	emailChanged := u.Email != oldEmail
	if emailChanged {
		owner, err := a.emailOwner(ctx, u.Email)
		if err != nil {
			return nil, wrap(op, err)
		}
		if owner != "" && owner != u.ID {
			return nil, aa.NewError(op, aa.KindConflict, errors.New("email already registered: "+u.Email))
		}
	}

	if err := a.put(ctx, a.keys.User(u.ID), u, time.Time{}); err != nil {
		return nil, wrap(op, err)
	}
	if emailChanged {
		if err := a.ix.setPointer(ctx, a.keys.UserByEmail(u.Email), u.ID); err != nil {
			return nil, wrap(op, err)
		}
		if err := a.store.Delete(ctx, a.keys.UserByEmail(oldEmail)); err != nil {
			return nil, wrap(op, err)
		}
	}
	return u, nil
}

// DeleteUser removes dependents first, then pointers, then the user itself, so
// an interrupted delete can simply be retried.
func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	const op = "DeleteUser"
	if id == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("id is required"))
	}
	u, err := a.loadUser(ctx, id)
	if err != nil {
		return wrap(op, err)
	}

	sets := []string{
		a.keys.SessionsByUser(id),
		a.keys.AccountsByUser(id),
		a.keys.AuthenticatorsByUser(id),
	}
	removed := 0
	for _, setKey := range sets {
		members, err := a.ix.members(ctx, setKey)
		if err != nil {
			return wrap(op, err)
		}
		for _, key := range members {
			owned, err := a.ownedBy(ctx, key, id)
			if err != nil {
				return wrap(op, err)
			}
			if !owned {
				a.logger.Debug("skipping stale index member", zap.String("set", setKey), zap.String("key", key))
				continue
			}
			if err := a.store.Delete(ctx, key); err != nil {
				return wrap(op, err)
			}
			removed++
		}
		if err := a.store.Delete(ctx, setKey); err != nil {
			return wrap(op, err)
		}
	}

	if u != nil {
		owner, err := a.ix.pointer(ctx, a.keys.UserByEmail(u.Email))
		if err != nil {
			return wrap(op, err)
		}
		if owner == id {
			if err := a.store.Delete(ctx, a.keys.UserByEmail(u.Email)); err != nil {
				return wrap(op, err)
			}
		}
	}
	if err := a.store.Delete(ctx, a.keys.User(id)); err != nil {
		return wrap(op, err)
	}
	a.logger.Debug("deleted user", zap.String("user_id", id), zap.Int("dependents", removed))
	return nil
}

// ownedBy reports whether the session, account or authenticator at key exists
// and belongs to userID.
func (a *Adapter) ownedBy(ctx context.Context, key, userID string) (bool, error) {
	var rec struct {
		UserID string `json:"userId"`
	}
	ok, err := a.get(ctx, key, &rec)
	if err != nil || !ok {
		return false, err
	}
	return rec.UserID == userID, nil
}

func (a *Adapter) LinkAccount(ctx context.Context, account *aa.Account) (*aa.Account, error) {
	const op = "LinkAccount"
	if account == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("account is nil"))
	}
	acct := *account
	if err := acct.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.keys.Account(acct.Ref())

	var existing aa.Account
	ok, err := a.get(ctx, key, &existing)
	if err != nil {
		return nil, wrap(op, err)
	}
	if ok && existing.UserID != acct.UserID {
		return nil, aa.NewError(op, aa.KindConflict, errors.New("account linked to another user"))
	}

	if err := a.put(ctx, key, &acct, time.Time{}); err != nil {
		return nil, wrap(op, err)
	}
	if err := a.ix.add(ctx, a.keys.AccountsByUser(acct.UserID), key); err != nil {
		return nil, wrap(op, err)
	}
	return &acct, nil
}

func (a *Adapter) UnlinkAccount(ctx context.Context, ref aa.AccountRef) error {
	const op = "UnlinkAccount"
	if err := ref.Validate(); err != nil {
		return aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.keys.Account(ref)
	var acct aa.Account
	ok, err := a.get(ctx, key, &acct)
	if err != nil || !ok {
		return wrap(op, err)
	}
	if err := a.store.Delete(ctx, key); err != nil {
		return wrap(op, err)
	}
	return wrap(op, a.ix.remove(ctx, a.keys.AccountsByUser(acct.UserID), key))
}

func (a *Adapter) GetAccount(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	const op = "GetAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var acct aa.Account
	ok, err := a.get(ctx, a.keys.Account(ref), &acct)
	if err != nil || !ok {
		return nil, wrap(op, err)
	}
	return &acct, nil
}

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

	key := a.keys.Session(s.SessionToken)
	existing, err := a.loadSession(ctx, s.SessionToken)
	if err != nil {
		return nil, wrap(op, err)
	}
	if existing != nil {
		return nil, aa.NewError(op, aa.KindConflict, errors.New("session token already in use"))
	}
	if err := a.put(ctx, key, &s, s.Expires); err != nil {
		return nil, wrap(op, err)
	}
	if err := a.ix.add(ctx, a.keys.SessionsByUser(s.UserID), key); err != nil {
		return nil, wrap(op, err)
	}
	return &s, nil
}

func (a *Adapter) loadSession(ctx context.Context, token string) (*aa.Session, error) {
	var s aa.Session
	ok, err := a.get(ctx, a.keys.Session(token), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*aa.SessionAndUser, error) {
	const op = "GetSessionAndUser"
	if sessionToken == "" {
		return nil, nil
	}
	s, err := a.loadSession(ctx, sessionToken)
	if err != nil || s == nil {
		return nil, wrap(op, err)
	}
	u, err := a.loadUser(ctx, s.UserID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if u == nil {
		a.logger.Warn("session references missing user", zap.String("user_id", s.UserID))
		return nil, nil
	}
	return &aa.SessionAndUser{Session: s, User: u}, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, patch aa.SessionPatch) (*aa.Session, error) {
	const op = "UpdateSession"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	s, err := a.loadSession(ctx, patch.SessionToken)
	if err != nil || s == nil {
		return nil, wrap(op, err)
	}
	oldUser := s.UserID
	patch.Apply(s)

	key := a.keys.Session(s.SessionToken)
	if err := a.put(ctx, key, s, s.Expires); err != nil {
		return nil, wrap(op, err)
	}
	if s.UserID != oldUser {
		if err := a.ix.add(ctx, a.keys.SessionsByUser(s.UserID), key); err != nil {
			return nil, wrap(op, err)
		}
		if err := a.ix.remove(ctx, a.keys.SessionsByUser(oldUser), key); err != nil {
			return nil, wrap(op, err)
		}
	}
	return s, nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	const op = "DeleteSession"
	if sessionToken == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("sessionToken is required"))
	}
	s, err := a.loadSession(ctx, sessionToken)
	if err != nil || s == nil {
		return wrap(op, err)
	}
	key := a.keys.Session(sessionToken)
	if err := a.store.Delete(ctx, key); err != nil {
		return wrap(op, err)
	}
	return wrap(op, a.ix.remove(ctx, a.keys.SessionsByUser(s.UserID), key))
}

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
	if err := a.put(ctx, a.keys.VerificationToken(vt.Ref()), &vt, vt.Expires); err != nil {
		return nil, wrap(op, err)
	}
	return &vt, nil
}

// UseVerificationToken is atomic on media implementing Taker. Elsewhere it
// reads then deletes, and two concurrent calls may both see the token.
func (a *Adapter) UseVerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	const op = "UseVerificationToken"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.keys.VerificationToken(ref)

	var data []byte
	var err error
	if taker, ok := a.store.(Taker); ok {
		data, err = taker.Take(ctx, key)
	} else {
		data, err = a.store.Get(ctx, key)
		if err == nil {
			err = a.store.Delete(ctx, key)
		}
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}

	var vt aa.VerificationToken
	if err := aa.Decode(data, &vt); err != nil {
		return nil, wrap(op, err)
	}
	return &vt, nil
}

func (a *Adapter) CreateAuthenticator(ctx context.Context, authenticator *aa.Authenticator) (*aa.Authenticator, error) {
	const op = "CreateAuthenticator"
	if authenticator == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("authenticator is nil"))
	}
	auth := *authenticator
	if err := auth.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	key := a.keys.Authenticator(auth.CredentialID)

	var existing aa.Authenticator
	ok, err := a.get(ctx, key, &existing)
	if err != nil {
		return nil, wrap(op, err)
	}
	if ok {
		return nil, aa.NewError(op, aa.KindConflict, errors.New("credential already registered: "+auth.CredentialID))
	}

	if err := a.put(ctx, key, &auth, time.Time{}); err != nil {
		return nil, wrap(op, err)
	}
	if err := a.ix.add(ctx, a.keys.AuthenticatorsByUser(auth.UserID), key); err != nil {
		return nil, wrap(op, err)
	}
	return &auth, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	if credentialID == "" {
		return nil, nil
	}
	var auth aa.Authenticator
	ok, err := a.get(ctx, a.keys.Authenticator(credentialID), &auth)
	if err != nil || !ok {
		return nil, wrap("GetAuthenticator", err)
	}
	return &auth, nil
}

// ListAuthenticatorsByUserID prunes pointers whose authenticator is gone.
func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*aa.Authenticator, error) {
	const op = "ListAuthenticatorsByUserID"
	out := []*aa.Authenticator{}
	if userID == "" {
		return out, nil
	}
	setKey := a.keys.AuthenticatorsByUser(userID)
	members, err := a.ix.members(ctx, setKey)
	if err != nil {
		return nil, wrap(op, err)
	}

	var stale []string
	for _, key := range members {
		var auth aa.Authenticator
		ok, err := a.get(ctx, key, &auth)
		if err != nil {
			return nil, wrap(op, err)
		}
		if !ok || auth.UserID != userID {
			stale = append(stale, key)
			continue
		}
		out = append(out, &auth)
	}
	if len(stale) > 0 {
		if err := a.ix.remove(ctx, setKey, stale...); err != nil {
			a.logger.Warn("could not prune authenticator index", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*aa.Authenticator, error) {
	const op = "UpdateAuthenticatorCounter"
	if credentialID == "" {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("credentialID is required"))
	}
	key := a.keys.Authenticator(credentialID)
	var auth aa.Authenticator
	ok, err := a.get(ctx, key, &auth)
	if err != nil {
		return nil, wrap(op, err)
	}
	if !ok {
		return nil, aa.NewError(op, aa.KindNotFound, errors.New("authenticator not found: "+credentialID))
	}
	auth.Counter = counter
	if err := a.put(ctx, key, &auth, time.Time{}); err != nil {
		return nil, wrap(op, err)
	}
	return &auth, nil
}

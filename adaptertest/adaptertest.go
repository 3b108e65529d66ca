// Package adaptertest is the conformance suite for authadapters adapters.
//
// An adapter package runs it from its own tests:
//
//	func TestAdapter(t *testing.T) {
//	    adaptertest.RunBasicTests(t, adaptertest.Options{
//	        Adapter: myadapter.New(client),
//	        DB:      myRawReader{client},
//	    })
//	}
//
// The suite only creates records with random identifiers (plus the fixed
// "u1" scenario, which it deletes before and after), so it can run against
// a shared database.
package adaptertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
)

// RawDB reads records straight from the medium, bypassing the adapter. It lets
// the suite check what was actually persisted and deleted.
type RawDB interface {
	User(ctx context.Context, id string) (*aa.User, error)
	Account(ctx context.Context, ref aa.AccountRef) (*aa.Account, error)
	Session(ctx context.Context, sessionToken string) (*aa.Session, error)
	VerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error)
	Authenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error)
}

// Options configures RunBasicTests.
type Options struct {
	Adapter aa.Adapter

	// DB is optional. Without it only the adapter's own view is checked.
	DB RawDB

	// SkipConcurrentUse skips the single winner check for UseVerificationToken,
	// for media without an atomic read-and-delete.
	SkipConcurrentUse bool
}

// RunBasicTests runs the conformance suite. WebAuthn checks run when the
// adapter implements aa.WebAuthnAdapter.
func RunBasicTests(t *testing.T, opts Options) {
	t.Helper()
	require.NotNil(t, opts.Adapter, "Options.Adapter is required")
	s := &suite{Options: opts}

	t.Run("UserRoundTrip", s.testUserRoundTrip)
	t.Run("CreateUserAssignsID", s.testCreateUserAssignsID)
	t.Run("DuplicateEmail", s.testDuplicateEmail)
	t.Run("UpdateUser", s.testUpdateUser)
	t.Run("UpdateMissingUser", s.testUpdateMissingUser)
	t.Run("Accounts", s.testAccounts)
	t.Run("Sessions", s.testSessions)
	t.Run("SessionTokenReuse", s.testSessionTokenReuse)
	t.Run("VerificationTokenSingleUse", s.testVerificationTokenSingleUse)
	if !opts.SkipConcurrentUse {
		t.Run("VerificationTokenConcurrentUse", s.testVerificationTokenConcurrentUse)
	}
	t.Run("CascadeDelete", s.testCascadeDelete)
	t.Run("NotFoundIsNil", s.testNotFoundIsNil)
	t.Run("InvalidInput", s.testInvalidInput)
	t.Run("Scenario", s.testScenario)
	if _, ok := opts.Adapter.(aa.WebAuthnAdapter); ok {
		t.Run("Authenticators", s.testAuthenticators)
	}
}

type suite struct {
	Options
}

func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func uniqEmail() string {
	return uuid.NewString()[:8] + "@example.com"
}

// future returns a time an hour ahead at millisecond precision.
func future() time.Time {
	return time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
}

func (s *suite) newUser(t *testing.T, ctx context.Context) *aa.User {
	t.Helper()
	u, err := s.Adapter.CreateUser(ctx, &aa.User{ID: uniq("user"), Email: uniqEmail(), Name: "Test User"})
	require.NoError(t, err)
	return u
}

func (s *suite) testUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	verified := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.FixedZone("X", 3600))
	in := &aa.User{
		ID:            uniq("user"),
		Name:          "Ada",
		Email:         uniqEmail(),
		Image:         "https://example.com/ada.png",
		EmailVerified: &verified,
		Extra: map[string]any{
			"locale":    "en",
			"lastLogin": "2024-02-03T04:05:06Z",
		},
	}
	created, err := s.Adapter.CreateUser(ctx, in)
	require.NoError(t, err)
	require.Equal(t, in.ID, created.ID)

	got, err := s.Adapter.GetUser(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Email, got.Email)
	assert.Equal(t, in.Image, got.Image)
	require.NotNil(t, got.EmailVerified)
	assert.True(t, verified.Truncate(time.Millisecond).Equal(*got.EmailVerified),
		"emailVerified = %v, want %v", got.EmailVerified, verified)
	assert.Equal(t, "en", got.Extra["locale"])
	assert.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), got.Extra["lastLogin"])

	byEmail, err := s.Adapter.GetUserByEmail(ctx, in.Email)
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, in.ID, byEmail.ID)

	if s.DB != nil {
		raw, err := s.DB.User(ctx, in.ID)
		require.NoError(t, err)
		require.NotNil(t, raw, "user not persisted")
		assert.Equal(t, in.Email, raw.Email)
	}
}

func (s *suite) testCreateUserAssignsID(t *testing.T) {
	ctx := context.Background()
	u, err := s.Adapter.CreateUser(ctx, &aa.User{Email: uniqEmail()})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	got, err := s.Adapter.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.EmailVerified)
}

func (s *suite) testDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	u := s.newUser(t, ctx)

	_, err := s.Adapter.CreateUser(ctx, &aa.User{ID: uniq("user"), Email: u.Email})
	require.Error(t, err)
	assert.True(t, errors.Is(err, aa.ErrConflict), "got %v", err)
}

func (s *suite) testUpdateUser(t *testing.T) {
	ctx := context.Background()
	u := s.newUser(t, ctx)
	oldEmail := u.Email

	name := "Renamed"
	email := uniqEmail()
	verified := time.Now()
	updated, err := s.Adapter.UpdateUser(ctx, aa.UserPatch{
		ID:            u.ID,
		Name:          &name,
		Email:         &email,
		EmailVerified: &verified,
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, email, updated.Email)

	got, err := s.Adapter.GetUserByEmail(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	require.NotNil(t, got.EmailVerified)
	assert.True(t, aa.NormalizeTime(verified).Equal(*got.EmailVerified))

	stale, err := s.Adapter.GetUserByEmail(ctx, oldEmail)
	require.NoError(t, err)
	assert.Nil(t, stale, "old email still resolves")

	cleared, err := s.Adapter.UpdateUser(ctx, aa.UserPatch{ID: u.ID, ClearEmailVerified: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.EmailVerified)
	assert.Equal(t, name, cleared.Name)
}

func (s *suite) testUpdateMissingUser(t *testing.T) {
	name := "nobody"
	_, err := s.Adapter.UpdateUser(context.Background(), aa.UserPatch{ID: uniq("missing"), Name: &name})
	require.Error(t, err)
	assert.True(t, errors.Is(err, aa.ErrNotFound), "got %v", err)
}

func (s *suite) testAccounts(t *testing.T) {
	ctx := context.Background()
	u := s.newUser(t, ctx)
	expires := time.Now().Add(time.Hour).Unix()
	acct := &aa.Account{
		UserID:            u.ID,
		Type:              "oauth",
		Provider:          "github",
		ProviderAccountID: uniq("gh"),
		AccessToken:       "access",
		RefreshToken:      "refresh",
		ExpiresAt:         &expires,
		TokenType:         "bearer",
		Scope:             "read:user",
	}
	_, err := s.Adapter.LinkAccount(ctx, acct)
	require.NoError(t, err)

	got, err := s.Adapter.GetUserByAccount(ctx, acct.Ref())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	if wa, ok := s.Adapter.(aa.WebAuthnAdapter); ok {
		stored, err := wa.GetAccount(ctx, acct.Ref())
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "access", stored.AccessToken)
		require.NotNil(t, stored.ExpiresAt)
		assert.Equal(t, expires, *stored.ExpiresAt)
	}

	other := s.newUser(t, ctx)
	stolen := *acct
	stolen.UserID = other.ID
	_, err = s.Adapter.LinkAccount(ctx, &stolen)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aa.ErrConflict), "got %v", err)

	require.NoError(t, s.Adapter.UnlinkAccount(ctx, acct.Ref()))
	got, err = s.Adapter.GetUserByAccount(ctx, acct.Ref())
	require.NoError(t, err)
	assert.Nil(t, got)

	// unlinking twice is not an error
	require.NoError(t, s.Adapter.UnlinkAccount(ctx, acct.Ref()))

	if s.DB != nil {
		raw, err := s.DB.Account(ctx, acct.Ref())
		require.NoError(t, err)
		assert.Nil(t, raw)
	}
}

func (s *suite) testSessions(t *testing.T) {
	ctx := context.Background()
	u := s.newUser(t, ctx)
	expires := future()
	token := uniq("sess")

	created, err := s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: token, UserID: u.ID, Expires: expires})
	require.NoError(t, err)
	assert.True(t, expires.Equal(created.Expires))

	su, err := s.Adapter.GetSessionAndUser(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, su)
	assert.Equal(t, token, su.Session.SessionToken)
	assert.True(t, expires.Equal(su.Session.Expires), "expires = %v, want %v", su.Session.Expires, expires)
	assert.Equal(t, u.ID, su.User.ID)

	later := expires.Add(24 * time.Hour)
	updated, err := s.Adapter.UpdateSession(ctx, aa.SessionPatch{SessionToken: token, Expires: &later})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, later.Equal(updated.Expires))

	missing, err := s.Adapter.UpdateSession(ctx, aa.SessionPatch{SessionToken: uniq("missing"), Expires: &later})
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.Adapter.DeleteSession(ctx, token))
	su, err = s.Adapter.GetSessionAndUser(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, su)

	if s.DB != nil {
		raw, err := s.DB.Session(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, raw)
	}
}

func (s *suite) testSessionTokenReuse(t *testing.T) {
	ctx := context.Background()
	first := s.newUser(t, ctx)
	second := s.newUser(t, ctx)
	token := uniq("sess")

	_, err := s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: token, UserID: first.ID, Expires: future()})
	require.NoError(t, err)
	_, err = s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: token, UserID: second.ID, Expires: future()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, aa.ErrConflict), "got %v", err)

	su, err := s.Adapter.GetSessionAndUser(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, su)
	assert.Equal(t, first.ID, su.User.ID, "token was taken over")

	// hand the token to the second user, then delete the first
	require.NoError(t, s.Adapter.DeleteSession(ctx, token))
	_, err = s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: token, UserID: second.ID, Expires: future()})
	require.NoError(t, err)
	require.NoError(t, s.Adapter.DeleteUser(ctx, first.ID))

	su, err = s.Adapter.GetSessionAndUser(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, su, "deleting the first user removed the second user's session")
	assert.Equal(t, second.ID, su.User.ID)
}

func (s *suite) testVerificationTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	vt := &aa.VerificationToken{Identifier: uniqEmail(), Token: uniq("tok"), Expires: future()}
	_, err := s.Adapter.CreateVerificationToken(ctx, vt)
	require.NoError(t, err)

	if s.DB != nil {
		raw, err := s.DB.VerificationToken(ctx, vt.Ref())
		require.NoError(t, err)
		require.NotNil(t, raw)
	}

	used, err := s.Adapter.UseVerificationToken(ctx, vt.Ref())
	require.NoError(t, err)
	require.NotNil(t, used)
	assert.Equal(t, vt.Identifier, used.Identifier)
	assert.Equal(t, vt.Token, used.Token)
	assert.True(t, vt.Expires.Equal(used.Expires))

	again, err := s.Adapter.UseVerificationToken(ctx, vt.Ref())
	require.NoError(t, err)
	assert.Nil(t, again)

	if s.DB != nil {
		raw, err := s.DB.VerificationToken(ctx, vt.Ref())
		require.NoError(t, err)
		assert.Nil(t, raw)
	}
}

func (s *suite) testVerificationTokenConcurrentUse(t *testing.T) {
	ctx := context.Background()
	vt := &aa.VerificationToken{Identifier: uniqEmail(), Token: uniq("tok"), Expires: future()}
	_, err := s.Adapter.CreateVerificationToken(ctx, vt)
	require.NoError(t, err)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Adapter.UseVerificationToken(ctx, vt.Ref())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else if got != nil {
				wins++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	assert.Equal(t, 1, wins, "token must be used exactly once")
}

func (s *suite) testCascadeDelete(t *testing.T) {
	ctx := context.Background()
	u := s.newUser(t, ctx)

	tokens := []string{uniq("sess"), uniq("sess")}
	for _, tok := range tokens {
		_, err := s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: tok, UserID: u.ID, Expires: future()})
		require.NoError(t, err)
	}
	refs := []aa.AccountRef{
		{Provider: "github", ProviderAccountID: uniq("gh")},
		{Provider: "google", ProviderAccountID: uniq("gg")},
	}
	for _, ref := range refs {
		_, err := s.Adapter.LinkAccount(ctx, &aa.Account{
			UserID: u.ID, Type: "oauth", Provider: ref.Provider, ProviderAccountID: ref.ProviderAccountID,
		})
		require.NoError(t, err)
	}
	wa, webauthn := s.Adapter.(aa.WebAuthnAdapter)
	credentialID := uniq("cred")
	if webauthn {
		_, err := wa.CreateAuthenticator(ctx, &aa.Authenticator{
			CredentialID: credentialID, UserID: u.ID, ProviderAccountID: credentialID,
			CredentialPublicKey: "pk", CredentialDeviceType: "singleDevice",
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Adapter.DeleteUser(ctx, u.ID))

	got, err := s.Adapter.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	byEmail, err := s.Adapter.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Nil(t, byEmail)
	for _, tok := range tokens {
		su, err := s.Adapter.GetSessionAndUser(ctx, tok)
		require.NoError(t, err)
		assert.Nil(t, su, "session %s survived", tok)
	}
	for _, ref := range refs {
		owner, err := s.Adapter.GetUserByAccount(ctx, ref)
		require.NoError(t, err)
		assert.Nil(t, owner, "account %v survived", ref)
	}
	if webauthn {
		auth, err := wa.GetAuthenticator(ctx, credentialID)
		require.NoError(t, err)
		assert.Nil(t, auth)
	}

	if s.DB != nil {
		raw, err := s.DB.User(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, raw)
		for _, tok := range tokens {
			rs, err := s.DB.Session(ctx, tok)
			require.NoError(t, err)
			assert.Nil(t, rs)
		}
		for _, ref := range refs {
			ra, err := s.DB.Account(ctx, ref)
			require.NoError(t, err)
			assert.Nil(t, ra)
		}
		if webauthn {
			rauth, err := s.DB.Authenticator(ctx, credentialID)
			require.NoError(t, err)
			assert.Nil(t, rauth)
		}
	}

	// the email is free again
	_, err = s.Adapter.CreateUser(ctx, &aa.User{Email: u.Email})
	require.NoError(t, err)
}

func (s *suite) testNotFoundIsNil(t *testing.T) {
	ctx := context.Background()

	u, err := s.Adapter.GetUser(ctx, "nonexistent-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = s.Adapter.GetUserByEmail(ctx, uniqEmail())
	require.NoError(t, err)
	assert.Nil(t, u)

	su, err := s.Adapter.GetSessionAndUser(ctx, "nonexistent-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, su)

	u, err = s.Adapter.GetUserByAccount(ctx, aa.AccountRef{Provider: "github", ProviderAccountID: uniq("none")})
	require.NoError(t, err)
	assert.Nil(t, u)

	vt, err := s.Adapter.UseVerificationToken(ctx, aa.VerificationTokenRef{Identifier: uniqEmail(), Token: uniq("none")})
	require.NoError(t, err)
	assert.Nil(t, vt)

	require.NoError(t, s.Adapter.DeleteSession(ctx, uniq("none")))
	require.NoError(t, s.Adapter.DeleteUser(ctx, uniq("none")))
}

func (s *suite) testInvalidInput(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		call func() error
	}{
		{"user without email", func() error {
			_, err := s.Adapter.CreateUser(ctx, &aa.User{ID: uniq("user")})
			return err
		}},
		{"account without provider", func() error {
			_, err := s.Adapter.LinkAccount(ctx, &aa.Account{UserID: "u", Type: "oauth", ProviderAccountID: "1"})
			return err
		}},
		{"session without expiry", func() error {
			_, err := s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: uniq("s"), UserID: "u"})
			return err
		}},
		{"token without identifier", func() error {
			_, err := s.Adapter.CreateVerificationToken(ctx, &aa.VerificationToken{Token: "t", Expires: future()})
			return err
		}},
		{"patch without id", func() error {
			_, err := s.Adapter.UpdateUser(ctx, aa.UserPatch{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, aa.ErrInvalid), "got %v", err)
		})
	}
}

func (s *suite) testScenario(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, s.Adapter.DeleteUser(ctx, "u1"))
	_ = s.Adapter.UnlinkAccount(ctx, aa.AccountRef{Provider: "github", ProviderAccountID: "42"})
	_ = s.Adapter.DeleteSession(ctx, "tok1")
	t.Cleanup(func() { _ = s.Adapter.DeleteUser(ctx, "u1") })

	_, err := s.Adapter.CreateUser(ctx, &aa.User{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)

	u, err := s.Adapter.GetUserByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	_, err = s.Adapter.LinkAccount(ctx, &aa.Account{UserID: "u1", Type: "oauth", Provider: "github", ProviderAccountID: "42"})
	require.NoError(t, err)
	u, err = s.Adapter.GetUserByAccount(ctx, aa.AccountRef{Provider: "github", ProviderAccountID: "42"})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	d := future()
	_, err = s.Adapter.CreateSession(ctx, &aa.Session{SessionToken: "tok1", UserID: "u1", Expires: d})
	require.NoError(t, err)
	su, err := s.Adapter.GetSessionAndUser(ctx, "tok1")
	require.NoError(t, err)
	require.NotNil(t, su)
	assert.Equal(t, "tok1", su.Session.SessionToken)
	assert.Equal(t, "u1", su.Session.UserID)
	assert.True(t, d.Equal(su.Session.Expires))
	assert.Equal(t, "u1", su.User.ID)
	assert.Equal(t, "a@b.com", su.User.Email)
}

func (s *suite) testAuthenticators(t *testing.T) {
	ctx := context.Background()
	wa := s.Adapter.(aa.WebAuthnAdapter)
	u := s.newUser(t, ctx)

	first := &aa.Authenticator{
		CredentialID: uniq("cred"), UserID: u.ID, ProviderAccountID: "pa1",
		CredentialPublicKey: "pk1", Counter: 1, CredentialDeviceType: "multiDevice",
		CredentialBackedUp: true, Transports: "internal,hybrid",
	}
	second := &aa.Authenticator{
		CredentialID: uniq("cred"), UserID: u.ID, ProviderAccountID: "pa2",
		CredentialPublicKey: "pk2", CredentialDeviceType: "singleDevice",
	}
	for _, a := range []*aa.Authenticator{first, second} {
		_, err := wa.CreateAuthenticator(ctx, a)
		require.NoError(t, err)
	}

	_, err := wa.CreateAuthenticator(ctx, first)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aa.ErrConflict), "got %v", err)

	got, err := wa.GetAuthenticator(ctx, first.CredentialID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *first, *got)

	list, err := wa.ListAuthenticatorsByUserID(ctx, u.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.CredentialID)
	}
	assert.ElementsMatch(t, []string{first.CredentialID, second.CredentialID}, ids)

	updated, err := wa.UpdateAuthenticatorCounter(ctx, first.CredentialID, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, updated.Counter)
	got, err = wa.GetAuthenticator(ctx, first.CredentialID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.Counter)

	_, err = wa.UpdateAuthenticatorCounter(ctx, uniq("missing"), 1)
	assert.True(t, errors.Is(err, aa.ErrNotFound), "got %v", err)

	empty, err := wa.ListAuthenticatorsByUserID(ctx, uniq("nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/adaptertest"
)

// newTestAdapter connects to the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	DATASTORE_EMULATOR_HOST=localhost:8081 go test ./stores/gae
func newTestAdapter(t *testing.T) (*Adapter, *datastore.Client) {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := datastore.NewClient(ctx, "authadapters-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client, WithNamespace("test-"+uuid.NewString()[:8])), client
}

type rawDB struct{ a *Adapter }

func (r rawDB) User(ctx context.Context, id string) (*aa.User, error) {
	return r.a.loadUser(ctx, id)
}

func (r rawDB) Account(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	var e AccountEntity
	found, err := get(ctx, r.a.client, r.a.accountKey(ref), &e)
	if err != nil || !found {
		return nil, err
	}
	return e.ToAccount()
}

func (r rawDB) Session(ctx context.Context, token string) (*aa.Session, error) {
	var e SessionEntity
	found, err := get(ctx, r.a.client, r.a.namespacedKey(KindSession, token), &e)
	if err != nil || !found {
		return nil, err
	}
	return e.ToSession(), nil
}

func (r rawDB) VerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	var e VerificationTokenEntity
	found, err := get(ctx, r.a.client, r.a.tokenKey(ref), &e)
	if err != nil || !found {
		return nil, err
	}
	return e.ToVerificationToken(), nil
}

func (r rawDB) Authenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	var e AuthenticatorEntity
	found, err := get(ctx, r.a.client, r.a.namespacedKey(KindAuthenticator, credentialID), &e)
	if err != nil || !found {
		return nil, err
	}
	return e.ToAuthenticator(), nil
}

func TestDatastoreAdapter(t *testing.T) {
	a, _ := newTestAdapter(t)
	adaptertest.RunBasicTests(t, adaptertest.Options{Adapter: a, DB: rawDB{a}})
}

func TestEntityConversions(t *testing.T) {
	verified := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	exp := int64(1_700_000_000)
	key := datastore.NameKey(KindUser, "u1", nil)

	u := &aa.User{ID: "u1", Email: "a@b.com", EmailVerified: &verified, Extra: map[string]any{"at": verified}}
	ue, err := UserToEntity(u, key)
	require.NoError(t, err)
	back, err := ue.ToUser()
	require.NoError(t, err)
	assert.Equal(t, u, back)

	unverified, err := (&UserEntity{Key: key, Email: "a@b.com"}).ToUser()
	require.NoError(t, err)
	assert.Nil(t, unverified.EmailVerified)
	assert.Nil(t, unverified.Extra)

	acct := &aa.Account{UserID: "u1", Type: "oauth", Provider: "github", ProviderAccountID: "42", ExpiresAt: &exp}
	ae, err := AccountToEntity(acct, datastore.NameKey(KindAccount, "github:42", nil))
	require.NoError(t, err)
	acctBack, err := ae.ToAccount()
	require.NoError(t, err)
	assert.Equal(t, acct, acctBack)

	_, err = (&UserEntity{Key: key, Extra: []byte("{")}).ToUser()
	assert.ErrorIs(t, err, aa.ErrCodec)
}

func TestNamespacedKeys(t *testing.T) {
	a := New(nil, WithNamespace("tenant"))
	k := a.accountKey(aa.AccountRef{Provider: "git:hub", ProviderAccountID: "42"})
	assert.Equal(t, "tenant", k.Namespace)
	assert.Equal(t, KindAccount, k.Kind)
	assert.Equal(t, "git_colon_hub:42", k.Name)
}

func TestChunk(t *testing.T) {
	keys := make([]*datastore.Key, 1201)
	batches := chunk(keys, maxBatch)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 500)
	assert.Len(t, batches[1], 500)
	assert.Len(t, batches[2], 201)

	assert.Empty(t, chunk([]*datastore.Key{}, maxBatch))
	assert.Len(t, chunk(make([]int, 500), maxBatch), 1)
}

func TestDeleteUserWithManySessions(t *testing.T) {
	a, client := newTestAdapter(t)
	ctx := context.Background()
	u, err := a.CreateUser(ctx, &aa.User{Email: uuid.NewString()[:8] + "@example.com"})
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	var keys []*datastore.Key
	var entities []*SessionEntity
	for i := 0; i < maxBatch+20; i++ {
		key := a.namespacedKey(KindSession, uuid.NewString())
		keys = append(keys, key)
		entities = append(entities, &SessionEntity{Key: key, UserID: u.ID, Expires: expires})
	}
	for start := 0; start < len(keys); start += maxBatch {
		end := min(start+maxBatch, len(keys))
		_, err := client.PutMulti(ctx, keys[start:end], entities[start:end])
		require.NoError(t, err)
	}

	require.NoError(t, a.DeleteUser(ctx, u.ID))
	left, err := a.userKeys(ctx, KindSession, u.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

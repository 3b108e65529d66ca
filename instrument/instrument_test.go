package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/adaptertest"
	"github.com/panyam/authadapters/kv"
)

func TestConformance(t *testing.T) {
	store := kv.NewMemoryStore()
	adaptertest.RunBasicTests(t, adaptertest.Options{
		Adapter: Wrap(kv.New(store), prometheus.NewRegistry()),
		DB:      adaptertest.KVDB{Store: store},
	})
}

func TestOperationCounts(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	a := Wrap(kv.New(kv.NewMemoryStore()), reg)
	ops := a.metrics.Operations

	_, err := a.CreateUser(ctx, &aa.User{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	_, err = a.CreateUser(ctx, &aa.User{ID: "u2", Email: "a@b.com"})
	require.Error(t, err)
	_, err = a.CreateUser(ctx, &aa.User{ID: "u3"})
	require.Error(t, err)

	u, err := a.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	u, err = a.GetUser(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, u)

	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("CreateUser", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("CreateUser", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("CreateUser", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("GetUser", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("GetUser", "not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.metrics.InFlight))

	// one histogram series per operation
	assert.Equal(t, 2, testutil.CollectAndCount(a.metrics.Duration))
}

func TestWrapTwiceSharesCollectors(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	a1 := Wrap(kv.New(kv.NewMemoryStore()), reg)
	a2 := Wrap(kv.New(kv.NewMemoryStore()), reg)
	require.Same(t, a1.metrics.Operations, a2.metrics.Operations)

	_, _ = a1.GetUser(ctx, "x")
	_, _ = a2.GetUser(ctx, "x")
	assert.Equal(t, 2.0, testutil.ToFloat64(a1.metrics.Operations.WithLabelValues("GetUser", "not_found")))
}

// basicOnly hides the WebAuthn methods of the wrapped adapter.
type basicOnly struct{ aa.Adapter }

func TestWebAuthnUnsupported(t *testing.T) {
	ctx := context.Background()
	a := Wrap(basicOnly{kv.New(kv.NewMemoryStore())}, prometheus.NewRegistry())

	_, err := a.GetAuthenticator(ctx, "cred")
	assert.ErrorIs(t, err, aa.ErrUnsupported)
	_, err = a.ListAuthenticatorsByUserID(ctx, "u1")
	assert.ErrorIs(t, err, aa.ErrUnsupported)
	_, err = a.UpdateAuthenticatorCounter(ctx, "cred", 1)
	assert.ErrorIs(t, err, aa.ErrUnsupported)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.Operations.WithLabelValues("GetAuthenticator", "unsupported")))
}

func TestWebAuthnForwarded(t *testing.T) {
	ctx := context.Background()
	a := Wrap(kv.New(kv.NewMemoryStore()), prometheus.NewRegistry())

	_, err := a.CreateAuthenticator(ctx, &aa.Authenticator{
		CredentialID: "cred", UserID: "u1", ProviderAccountID: "cred",
		CredentialPublicKey: "pk", CredentialDeviceType: "singleDevice",
	})
	require.NoError(t, err)
	got, err := a.UpdateAuthenticatorCounter(ctx, "cred", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Counter)
}

func TestResult(t *testing.T) {
	cases := []struct {
		err     error
		missing bool
		want    string
	}{
		{nil, false, ResultOK},
		{nil, true, ResultNotFound},
		{aa.NewError("op", aa.KindBackend, errors.New("down")), false, "backend"},
		{aa.NewError("op", aa.KindNotFound, nil), false, "not_found"},
		{context.DeadlineExceeded, false, ResultError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Result(tc.err, tc.missing), "err=%v", tc.err)
	}
}

func TestDurationObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := Wrap(kv.New(kv.NewMemoryStore()), reg)
	_, err := a.CreateSession(context.Background(), &aa.Session{SessionToken: "s", UserID: "u", Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["authadapters_operations_total"])
	assert.True(t, names["authadapters_operation_duration_seconds"])
}

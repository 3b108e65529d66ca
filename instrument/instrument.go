// Package instrument wraps an adapter with Prometheus metrics.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	aa "github.com/panyam/authadapters"
)

// Result label values besides the error kinds.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds the collectors shared by every wrapped adapter on a registry.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	InFlight   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already registered on reg are reused. A nil reg means the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "authadapters_operations_total", Help: "Adapter operations by outcome"},
			[]string{"operation", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authadapters_operation_duration_seconds",
				Help:    "Adapter operation duration seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "authadapters_in_flight_operations", Help: "Adapter operations in progress"},
		),
	}
	var err error
	if m.Operations, err = register(reg, m.Operations); err != nil {
		return nil, err
	}
	if m.Duration, err = register(reg, m.Duration); err != nil {
		return nil, err
	}
	if m.InFlight, err = register(reg, m.InFlight); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register collector: %w", err)
	}
	return c, nil
}

// Adapter records metrics around every call to the wrapped adapter.
type Adapter struct {
	next    aa.Adapter
	metrics *Metrics
}

var _ aa.WebAuthnAdapter = (*Adapter)(nil)

// Wrap instruments next, registering the collectors on reg. It panics if
// registration fails for any reason other than the collectors already being
// present.
func Wrap(next aa.Adapter, reg prometheus.Registerer) *Adapter {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return WithMetrics(next, m)
}

// WithMetrics instruments next with existing collectors.
func WithMetrics(next aa.Adapter, m *Metrics) *Adapter {
	return &Adapter{next: next, metrics: m}
}

// Unwrap returns the instrumented adapter.
func (a *Adapter) Unwrap() aa.Adapter { return a.next }

// Result maps an operation outcome to its label value.
func Result(err error, missing bool) string {
	switch {
	case err == nil && missing:
		return ResultNotFound
	case err == nil:
		return ResultOK
	}
	if kind := aa.KindOf(err); kind != "" {
		return string(kind)
	}
	return ResultError
}

// begin starts timing op. The returned func records the outcome.
func (a *Adapter) begin(op string) func(err error, missing bool) {
	start := time.Now()
	a.metrics.InFlight.Inc()
	return func(err error, missing bool) {
		a.metrics.InFlight.Dec()
		a.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		a.metrics.Operations.WithLabelValues(op, Result(err, missing)).Inc()
	}
}

func (a *Adapter) webauthn(op string) (aa.WebAuthnAdapter, error) {
	if wa, ok := a.next.(aa.WebAuthnAdapter); ok {
		return wa, nil
	}
	return nil, aa.NewError(op, aa.KindUnsupported, fmt.Errorf("%T does not store authenticators", a.next))
}

func (a *Adapter) CreateUser(ctx context.Context, user *aa.User) (*aa.User, error) {
	done := a.begin("CreateUser")
	u, err := a.next.CreateUser(ctx, user)
	done(err, false)
	return u, err
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*aa.User, error) {
	done := a.begin("GetUser")
	u, err := a.next.GetUser(ctx, id)
	done(err, u == nil)
	return u, err
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*aa.User, error) {
	done := a.begin("GetUserByEmail")
	u, err := a.next.GetUserByEmail(ctx, email)
	done(err, u == nil)
	return u, err
}

func (a *Adapter) GetUserByAccount(ctx context.Context, ref aa.AccountRef) (*aa.User, error) {
	done := a.begin("GetUserByAccount")
	u, err := a.next.GetUserByAccount(ctx, ref)
	done(err, u == nil)
	return u, err
}

func (a *Adapter) UpdateUser(ctx context.Context, patch aa.UserPatch) (*aa.User, error) {
	done := a.begin("UpdateUser")
	u, err := a.next.UpdateUser(ctx, patch)
	done(err, false)
	return u, err
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	done := a.begin("DeleteUser")
	err := a.next.DeleteUser(ctx, id)
	done(err, false)
	return err
}

func (a *Adapter) LinkAccount(ctx context.Context, account *aa.Account) (*aa.Account, error) {
	done := a.begin("LinkAccount")
	acct, err := a.next.LinkAccount(ctx, account)
	done(err, false)
	return acct, err
}

func (a *Adapter) UnlinkAccount(ctx context.Context, ref aa.AccountRef) error {
	done := a.begin("UnlinkAccount")
	err := a.next.UnlinkAccount(ctx, ref)
	done(err, false)
	return err
}

func (a *Adapter) CreateSession(ctx context.Context, session *aa.Session) (*aa.Session, error) {
	done := a.begin("CreateSession")
	s, err := a.next.CreateSession(ctx, session)
	done(err, false)
	return s, err
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*aa.SessionAndUser, error) {
	done := a.begin("GetSessionAndUser")
	su, err := a.next.GetSessionAndUser(ctx, sessionToken)
	done(err, su == nil)
	return su, err
}

func (a *Adapter) UpdateSession(ctx context.Context, patch aa.SessionPatch) (*aa.Session, error) {
	done := a.begin("UpdateSession")
	s, err := a.next.UpdateSession(ctx, patch)
	done(err, s == nil)
	return s, err
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	done := a.begin("DeleteSession")
	err := a.next.DeleteSession(ctx, sessionToken)
	done(err, false)
	return err
}

func (a *Adapter) CreateVerificationToken(ctx context.Context, token *aa.VerificationToken) (*aa.VerificationToken, error) {
	done := a.begin("CreateVerificationToken")
	vt, err := a.next.CreateVerificationToken(ctx, token)
	done(err, false)
	return vt, err
}

func (a *Adapter) UseVerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	done := a.begin("UseVerificationToken")
	vt, err := a.next.UseVerificationToken(ctx, ref)
	done(err, vt == nil)
	return vt, err
}

func (a *Adapter) GetAccount(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	const op = "GetAccount"
	done := a.begin(op)
	wa, err := a.webauthn(op)
	if err != nil {
		done(err, false)
		return nil, err
	}
	acct, err := wa.GetAccount(ctx, ref)
	done(err, acct == nil)
	return acct, err
}

func (a *Adapter) CreateAuthenticator(ctx context.Context, authenticator *aa.Authenticator) (*aa.Authenticator, error) {
	const op = "CreateAuthenticator"
	done := a.begin(op)
	wa, err := a.webauthn(op)
	if err != nil {
		done(err, false)
		return nil, err
	}
	auth, err := wa.CreateAuthenticator(ctx, authenticator)
	done(err, false)
	return auth, err
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	const op = "GetAuthenticator"
	done := a.begin(op)
	wa, err := a.webauthn(op)
	if err != nil {
		done(err, false)
		return nil, err
	}
	auth, err := wa.GetAuthenticator(ctx, credentialID)
	done(err, auth == nil)
	return auth, err
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*aa.Authenticator, error) {
	const op = "ListAuthenticatorsByUserID"
	done := a.begin(op)
	wa, err := a.webauthn(op)
	if err != nil {
		done(err, false)
		return nil, err
	}
	list, err := wa.ListAuthenticatorsByUserID(ctx, userID)
	done(err, false)
	return list, err
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*aa.Authenticator, error) {
	const op = "UpdateAuthenticatorCounter"
	done := a.begin(op)
	wa, err := a.webauthn(op)
	if err != nil {
		done(err, false)
		return nil, err
	}
	auth, err := wa.UpdateAuthenticatorCounter(ctx, credentialID, counter)
	done(err, false)
	return auth, err
}

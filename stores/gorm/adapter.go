//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	aa "github.com/panyam/authadapters"
)

// AutoMigrate runs database migrations for all adapter tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AccountModel{},
		&SessionModel{},
		&VerificationTokenModel{},
		&AuthenticatorModel{},
	)
}

// Adapter implements aa.WebAuthnAdapter using GORM
type Adapter struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ aa.WebAuthnAdapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(db *gorm.DB, opts ...Option) *Adapter {
	a := &Adapter{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// translate maps a GORM error onto a StorageError for op.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return aa.NewError(op, aa.KindConflict, err)
	default:
		return aa.Backend(op, err)
	}
}

// first loads the row matching query into dest. Returns false if there is none.
func first(tx *gorm.DB, dest any, query string, args ...any) (bool, error) {
	err := tx.Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// =============================================================================
// Users
// =============================================================================

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

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserModel
		found, err := first(tx, &existing, "id = ? OR email = ?", u.ID, u.Email)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, fmt.Errorf("user %s or email %s already exists", u.ID, u.Email))
		}
		return tx.Create(UserToModel(&u)).Error
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*aa.User, error) {
	if id == "" {
		return nil, nil
	}
	var model UserModel
	found, err := first(a.db.WithContext(ctx), &model, "id = ?", id)
	if err != nil || !found {
		return nil, translate("GetUser", err)
	}
	return model.ToUser(), nil
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*aa.User, error) {
	if email == "" {
		return nil, nil
	}
	var model UserModel
	found, err := first(a.db.WithContext(ctx), &model, "email = ?", email)
	if err != nil || !found {
		return nil, translate("GetUserByEmail", err)
	}
	return model.ToUser(), nil
}

func (a *Adapter) GetUserByAccount(ctx context.Context, ref aa.AccountRef) (*aa.User, error) {
	const op = "GetUserByAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var model UserModel
	err := a.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider = ? AND accounts.provider_account_id = ?", ref.Provider, ref.ProviderAccountID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(op, err)
	}
	return model.ToUser(), nil
}

func (a *Adapter) UpdateUser(ctx context.Context, patch aa.UserPatch) (*aa.User, error) {
	const op = "UpdateUser"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var out *aa.User
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		found, err := first(tx, &model, "id = ?", patch.ID)
		if err != nil {
			return err
		}
		if !found {
			return aa.NewError(op, aa.KindNotFound, fmt.Errorf("user not found: %s", patch.ID))
		}
		u := model.ToUser()
		patch.Apply(u)
		u.Normalize()

		if u.Email != model.Email {
			var other UserModel
			taken, err := first(tx, &other, "email = ? AND id <> ?", u.Email, u.ID)
			if err != nil {
				return err
			}
			if taken {
				return aa.NewError(op, aa.KindConflict, fmt.Errorf("email already registered: %s", u.Email))
			}
		}

		updated := UserToModel(u)
		updated.CreatedAt = model.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	const op = "DeleteUser"
	if id == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("id is required"))
	}
	var removed int64
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&SessionModel{}, &AccountModel{}, &AuthenticatorModel{}} {
			res := tx.Where("user_id = ?", id).Delete(model)
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return tx.Where("id = ?", id).Delete(&UserModel{}).Error
	})
	if err != nil {
		return translate(op, err)
	}
	a.logger.Debug("deleted user", zap.String("user_id", id), zap.Int64("dependents", removed))
	return nil
}

// =============================================================================
// Accounts
// =============================================================================

func (a *Adapter) LinkAccount(ctx context.Context, account *aa.Account) (*aa.Account, error) {
	const op = "LinkAccount"
	if account == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("account is nil"))
	}
	acct := *account
	if err := acct.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing AccountModel
		found, err := first(tx, &existing, "provider = ? AND provider_account_id = ?", acct.Provider, acct.ProviderAccountID)
		if err != nil {
			return err
		}
		model := AccountToModel(&acct)
		if !found {
			return tx.Create(model).Error
		}
		if existing.UserID != acct.UserID {
			return aa.NewError(op, aa.KindConflict, errors.New("account linked to another user"))
		}
		model.CreatedAt = existing.CreatedAt
		return tx.Save(model).Error
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return &acct, nil
}

func (a *Adapter) UnlinkAccount(ctx context.Context, ref aa.AccountRef) error {
	const op = "UnlinkAccount"
	if err := ref.Validate(); err != nil {
		return aa.NewError(op, aa.KindInvalid, err)
	}
	err := a.db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", ref.Provider, ref.ProviderAccountID).
		Delete(&AccountModel{}).Error
	return translate(op, err)
}

func (a *Adapter) GetAccount(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	const op = "GetAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var model AccountModel
	found, err := first(a.db.WithContext(ctx), &model, "provider = ? AND provider_account_id = ?", ref.Provider, ref.ProviderAccountID)
	if err != nil || !found {
		return nil, translate(op, err)
	}
	return model.ToAccount(), nil
}

// =============================================================================
// Sessions
// =============================================================================

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
	if err := a.db.WithContext(ctx).Create(SessionToModel(&s)).Error; err != nil {
		return nil, translate(op, err)
	}
	return &s, nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*aa.SessionAndUser, error) {
	const op = "GetSessionAndUser"
	if sessionToken == "" {
		return nil, nil
	}
	db := a.db.WithContext(ctx)
	var sm SessionModel
	found, err := first(db, &sm, "session_token = ?", sessionToken)
	if err != nil || !found {
		return nil, translate(op, err)
	}
	var um UserModel
	found, err = first(db, &um, "id = ?", sm.UserID)
	if err != nil {
		return nil, translate(op, err)
	}
	if !found {
		a.logger.Warn("session references missing user", zap.String("user_id", sm.UserID))
		return nil, nil
	}
	return &aa.SessionAndUser{Session: sm.ToSession(), User: um.ToUser()}, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, patch aa.SessionPatch) (*aa.Session, error) {
	const op = "UpdateSession"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var out *aa.Session
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model SessionModel
		found, err := first(tx, &model, "session_token = ?", patch.SessionToken)
		if err != nil || !found {
			return err
		}
		s := model.ToSession()
		patch.Apply(s)
		if err := tx.Save(SessionToModel(s)).Error; err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	const op = "DeleteSession"
	if sessionToken == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("sessionToken is required"))
	}
	err := a.db.WithContext(ctx).Where("session_token = ?", sessionToken).Delete(&SessionModel{}).Error
	return translate(op, err)
}

// =============================================================================
// Verification tokens
// =============================================================================

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
	if err := a.db.WithContext(ctx).Save(VerificationTokenToModel(&vt)).Error; err != nil {
		return nil, translate(op, err)
	}
	return &vt, nil
}

// UseVerificationToken reads and deletes the row in one transaction. Of two
// concurrent callers only the one whose DELETE removes the row gets the token.
func (a *Adapter) UseVerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	const op = "UseVerificationToken"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var out *aa.VerificationToken
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model VerificationTokenModel
		found, err := first(tx, &model, "identifier = ? AND token = ?", ref.Identifier, ref.Token)
		if err != nil || !found {
			return err
		}
		res := tx.Where("identifier = ? AND token = ?", ref.Identifier, ref.Token).Delete(&VerificationTokenModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out = model.ToVerificationToken()
		}
		return nil
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

// =============================================================================
// Authenticators
// =============================================================================

func (a *Adapter) CreateAuthenticator(ctx context.Context, authenticator *aa.Authenticator) (*aa.Authenticator, error) {
	const op = "CreateAuthenticator"
	if authenticator == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("authenticator is nil"))
	}
	auth := *authenticator
	if err := auth.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing AuthenticatorModel
		found, err := first(tx, &existing, "credential_id = ?", auth.CredentialID)
		if err != nil {
			return err
		}
		if found {
			return aa.NewError(op, aa.KindConflict, fmt.Errorf("credential already registered: %s", auth.CredentialID))
		}
		return tx.Create(AuthenticatorToModel(&auth)).Error
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return &auth, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	if credentialID == "" {
		return nil, nil
	}
	var model AuthenticatorModel
	found, err := first(a.db.WithContext(ctx), &model, "credential_id = ?", credentialID)
	if err != nil || !found {
		return nil, translate("GetAuthenticator", err)
	}
	return model.ToAuthenticator(), nil
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*aa.Authenticator, error) {
	var models []AuthenticatorModel
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("credential_id").Find(&models).Error; err != nil {
		return nil, translate("ListAuthenticatorsByUserID", err)
	}
	out := make([]*aa.Authenticator, len(models))
	for i := range models {
		out[i] = models[i].ToAuthenticator()
	}
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*aa.Authenticator, error) {
	const op = "UpdateAuthenticatorCounter"
	if credentialID == "" {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("credentialID is required"))
	}
	var out *aa.Authenticator
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AuthenticatorModel
		found, err := first(tx, &model, "credential_id = ?", credentialID)
		if err != nil {
			return err
		}
		if !found {
			return aa.NewError(op, aa.KindNotFound, fmt.Errorf("authenticator not found: %s", credentialID))
		}
		if err := tx.Model(&model).Update("counter", counter).Error; err != nil {
			return err
		}
		model.Counter = counter
		out = model.ToAuthenticator()
		return nil
	})
	if err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

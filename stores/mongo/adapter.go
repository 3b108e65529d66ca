// Package mongo is a native authadapters adapter on MongoDB.
//
// Uniqueness of user ids, emails and account links is enforced by indexes
// created with EnsureIndexes, which must run once before use. Sessions and
// verification tokens get a TTL index on "expires", so MongoDB drops them after
// they expire.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	aa "github.com/panyam/authadapters"
)

// Adapter implements aa.WebAuthnAdapter on a MongoDB database.
type Adapter struct {
	db     *mongo.Database
	keys   aa.KeyEncoder
	logger *zap.Logger
}

var _ aa.WebAuthnAdapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(db *mongo.Database, opts ...Option) *Adapter {
	a := &Adapter{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dial connects to uri and pings the server. The returned release func
// disconnects, for use with authadapters.Using.
func Dial(ctx context.Context, uri string) (*mongo.Client, func() error, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, nil, err
	}
	return cli, func() error { return cli.Disconnect(context.Background()) }, nil
}

// EnsureIndexes creates the unique, lookup and TTL indexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		CollUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		},
		CollAccounts: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("user_id")},
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "providerAccountId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_provider_account"),
			},
		},
		CollSessions: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("user_id")},
			{Keys: bson.D{{Key: "expires", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires")},
		},
		CollVerificationTokens: {
			{Keys: bson.D{{Key: "expires", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires")},
		},
		CollAuthenticators: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("user_id")},
		},
	}
	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// IsDup reports whether err is a duplicate key error.
func IsDup(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsDup(err):
		return aa.NewError(op, aa.KindConflict, err)
	default:
		return aa.Backend(op, err)
	}
}

func (a *Adapter) coll(name string) *mongo.Collection {
	return a.db.Collection(name)
}

// findOne decodes the document matching filter into dst. Returns false when
// there is none.
func (a *Adapter) findOne(ctx context.Context, coll string, filter any, dst any) (bool, error) {
	err := a.coll(coll).FindOne(ctx, filter).Decode(dst)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) accountID(ref aa.AccountRef) string {
	return a.keys.JoinParts(ref.Provider, ref.ProviderAccountID)
}

func (a *Adapter) tokenID(ref aa.VerificationTokenRef) string {
	return a.keys.JoinParts(ref.Identifier, ref.Token)
}

// ----------------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------------

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
	doc, err := userToDoc(&u)
	if err != nil {
		return nil, err
	}
	if _, err := a.coll(CollUsers).InsertOne(ctx, doc); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

func (a *Adapter) findUser(ctx context.Context, filter bson.M) (*aa.User, error) {
	var doc userDoc
	found, err := a.findOne(ctx, CollUsers, filter, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.toUser()
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*aa.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := a.findUser(ctx, bson.M{"_id": id})
	return u, translate("GetUser", err)
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*aa.User, error) {
	if email == "" {
		return nil, nil
	}
	u, err := a.findUser(ctx, bson.M{"email": email})
	return u, translate("GetUserByEmail", err)
}

func (a *Adapter) GetUserByAccount(ctx context.Context, ref aa.AccountRef) (*aa.User, error) {
	const op = "GetUserByAccount"
	acct, err := a.GetAccount(ctx, ref)
	if err != nil || acct == nil {
		return nil, err
	}
	u, err := a.findUser(ctx, bson.M{"_id": acct.UserID})
	return u, translate(op, err)
}

func (a *Adapter) UpdateUser(ctx context.Context, patch aa.UserPatch) (*aa.User, error) {
	const op = "UpdateUser"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	u, err := a.findUser(ctx, bson.M{"_id": patch.ID})
	if err != nil {
		return nil, translate(op, err)
	}
	if u == nil {
		return nil, aa.NewError(op, aa.KindNotFound, fmt.Errorf("user not found: %s", patch.ID))
	}
	patch.Apply(u)
	u.Normalize()

	doc, err := userToDoc(u)
	if err != nil {
		return nil, err
	}
	res, err := a.coll(CollUsers).ReplaceOne(ctx, bson.M{"_id": u.ID}, doc)
	if err != nil {
		return nil, translate(op, err)
	}
	if res.MatchedCount == 0 {
		return nil, aa.NewError(op, aa.KindNotFound, fmt.Errorf("user not found: %s", patch.ID))
	}
	return u, nil
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	const op = "DeleteUser"
	if id == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("id is required"))
	}
	var removed int64
	for _, coll := range []string{CollSessions, CollAccounts, CollAuthenticators} {
		res, err := a.coll(coll).DeleteMany(ctx, bson.M{"userId": id})
		if err != nil {
			return translate(op, err)
		}
		removed += res.DeletedCount
	}
	if _, err := a.coll(CollUsers).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return translate(op, err)
	}
	a.logger.Debug("deleted user", zap.String("user_id", id), zap.Int64("dependents", removed))
	return nil
}

// ----------------------------------------------------------------------------
// Accounts
// ----------------------------------------------------------------------------

// LinkAccount upserts the account only if it is unlinked or already linked to
// the same user. A link to another user makes the upsert collide on _id.
func (a *Adapter) LinkAccount(ctx context.Context, account *aa.Account) (*aa.Account, error) {
	const op = "LinkAccount"
	if account == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("account is nil"))
	}
	acct := *account
	if err := acct.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	id := a.accountID(acct.Ref())
	doc, err := accountToDoc(id, &acct)
	if err != nil {
		return nil, err
	}
	_, err = a.coll(CollAccounts).ReplaceOne(ctx,
		bson.M{"_id": id, "userId": acct.UserID}, doc,
		options.Replace().SetUpsert(true))
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
	_, err := a.coll(CollAccounts).DeleteOne(ctx, bson.M{"_id": a.accountID(ref)})
	return translate(op, err)
}

func (a *Adapter) GetAccount(ctx context.Context, ref aa.AccountRef) (*aa.Account, error) {
	const op = "GetAccount"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var doc accountDoc
	found, err := a.findOne(ctx, CollAccounts, bson.M{"_id": a.accountID(ref)}, &doc)
	if err != nil || !found {
		return nil, translate(op, err)
	}
	acct, err := doc.toAccount()
	return acct, translate(op, err)
}

// ----------------------------------------------------------------------------
// Sessions
// ----------------------------------------------------------------------------

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
	doc := &sessionDoc{ID: s.SessionToken, UserID: s.UserID, Expires: s.Expires}
	if _, err := a.coll(CollSessions).InsertOne(ctx, doc); err != nil {
		return nil, translate(op, err)
	}
	return &s, nil
}

func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*aa.SessionAndUser, error) {
	const op = "GetSessionAndUser"
	if sessionToken == "" {
		return nil, nil
	}
	var doc sessionDoc
	found, err := a.findOne(ctx, CollSessions, bson.M{"_id": sessionToken}, &doc)
	if err != nil || !found {
		return nil, translate(op, err)
	}
	u, err := a.findUser(ctx, bson.M{"_id": doc.UserID})
	if err != nil {
		return nil, translate(op, err)
	}
	if u == nil {
		a.logger.Warn("session references missing user", zap.String("user_id", doc.UserID))
		return nil, nil
	}
	return &aa.SessionAndUser{Session: doc.toSession(), User: u}, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, patch aa.SessionPatch) (*aa.Session, error) {
	const op = "UpdateSession"
	if err := patch.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	set := bson.M{}
	if patch.UserID != nil {
		set["userId"] = *patch.UserID
	}
	if patch.Expires != nil {
		set["expires"] = aa.NormalizeTime(*patch.Expires)
	}

	var doc sessionDoc
	var err error
	if len(set) == 0 {
		err = a.coll(CollSessions).FindOne(ctx, bson.M{"_id": patch.SessionToken}).Decode(&doc)
	} else {
		err = a.coll(CollSessions).FindOneAndUpdate(ctx,
			bson.M{"_id": patch.SessionToken},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(op, err)
	}
	return doc.toSession(), nil
}

func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	const op = "DeleteSession"
	if sessionToken == "" {
		return aa.NewError(op, aa.KindInvalid, errors.New("sessionToken is required"))
	}
	_, err := a.coll(CollSessions).DeleteOne(ctx, bson.M{"_id": sessionToken})
	return translate(op, err)
}

// ----------------------------------------------------------------------------
// Verification tokens
// ----------------------------------------------------------------------------

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
	id := a.tokenID(vt.Ref())
	doc := &verificationTokenDoc{ID: id, Identifier: vt.Identifier, Token: vt.Token, Expires: vt.Expires}
	_, err := a.coll(CollVerificationTokens).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, translate(op, err)
	}
	return &vt, nil
}

func (a *Adapter) UseVerificationToken(ctx context.Context, ref aa.VerificationTokenRef) (*aa.VerificationToken, error) {
	const op = "UseVerificationToken"
	if err := ref.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	var doc verificationTokenDoc
	err := a.coll(CollVerificationTokens).FindOneAndDelete(ctx, bson.M{"_id": a.tokenID(ref)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(op, err)
	}
	return doc.toVerificationToken(), nil
}

// ----------------------------------------------------------------------------
// Authenticators
// ----------------------------------------------------------------------------

func (a *Adapter) CreateAuthenticator(ctx context.Context, authenticator *aa.Authenticator) (*aa.Authenticator, error) {
	const op = "CreateAuthenticator"
	if authenticator == nil {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("authenticator is nil"))
	}
	auth := *authenticator
	if err := auth.Validate(); err != nil {
		return nil, aa.NewError(op, aa.KindInvalid, err)
	}
	if _, err := a.coll(CollAuthenticators).InsertOne(ctx, authenticatorToDoc(&auth)); err != nil {
		return nil, translate(op, err)
	}
	return &auth, nil
}

func (a *Adapter) GetAuthenticator(ctx context.Context, credentialID string) (*aa.Authenticator, error) {
	if credentialID == "" {
		return nil, nil
	}
	var doc authenticatorDoc
	found, err := a.findOne(ctx, CollAuthenticators, bson.M{"_id": credentialID}, &doc)
	if err != nil || !found {
		return nil, translate("GetAuthenticator", err)
	}
	return doc.toAuthenticator(), nil
}

func (a *Adapter) ListAuthenticatorsByUserID(ctx context.Context, userID string) ([]*aa.Authenticator, error) {
	const op = "ListAuthenticatorsByUserID"
	cur, err := a.coll(CollAuthenticators).Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, translate(op, err)
	}
	var docs []authenticatorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, translate(op, err)
	}
	out := make([]*aa.Authenticator, len(docs))
	for i := range docs {
		out[i] = docs[i].toAuthenticator()
	}
	return out, nil
}

func (a *Adapter) UpdateAuthenticatorCounter(ctx context.Context, credentialID string, counter int64) (*aa.Authenticator, error) {
	const op = "UpdateAuthenticatorCounter"
	if credentialID == "" {
		return nil, aa.NewError(op, aa.KindInvalid, errors.New("credentialID is required"))
	}
	var doc authenticatorDoc
	err := a.coll(CollAuthenticators).FindOneAndUpdate(ctx,
		bson.M{"_id": credentialID},
		bson.M{"$set": bson.M{"counter": counter}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, aa.NewError(op, aa.KindNotFound, fmt.Errorf("authenticator not found: %s", credentialID))
	}
	if err != nil {
		return nil, translate(op, err)
	}
	return doc.toAuthenticator(), nil
}

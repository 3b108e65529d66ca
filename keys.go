package authadapters

import (
	"strings"
)

// Namespace segments of the key layout.
const (
	segUser          = "user"
	segEmail         = "email"
	segAccount       = "account"
	segSession       = "session"
	segToken         = "token"
	segAuthenticator = "authenticator"
	segByUserID      = "by-user-id"
)

const DefaultSeparator = ":"

// defaultReplacements is the escape policy for identifier parts. It is lossy in
// theory (a literal "_at_" and "@" encode alike, as do the providers
// "by-user-id" and "_by-user-id") but keeps emails, UUIDs and provider names
// distinct in practice.
var defaultReplacements = []string{
	"@", "_at_",
	":", "_colon_",
	" ", "_",
}

var separatorNames = map[string]string{
	":": "_colon_",
	".": "_dot_",
	"/": "_slash_",
}

// KeyEncoder turns logical identifiers into storage keys. The zero value uses
// ":" as separator, no prefix and the default escape policy.
//
//	user:<id>
//	user:email:<email>
//	user:account:<provider>:<providerAccountId>
//	user:account:by-user-id:<userId>
//	user:session:<sessionToken>
//	user:session:by-user-id:<userId>
//	user:token:<identifier>:<token>
//	authenticator:<credentialID>
//	authenticator:by-user-id:<userId>
type KeyEncoder struct {
	// Prefix, if set, becomes the leading segment of every key.
	Prefix string

	// Separator joins segments. Defaults to ":".
	Separator string

	// Escape maps an identifier part to its encoded form. Defaults to EscapePart
	// with this encoder's separator. Media with narrower alphabets wrap it.
	Escape func(part string) string
}

func (k KeyEncoder) sep() string {
	if k.Separator == "" {
		return DefaultSeparator
	}
	return k.Separator
}

// EscapePart applies the escape policy: "@" -> "_at_", ":" -> "_colon_",
// " " -> "_", and the separator (when not ":") to a named placeholder.
func EscapePart(part, separator string) string {
	pairs := defaultReplacements
	if separator != "" && separator != ":" {
		name, ok := separatorNames[separator]
		if !ok {
			name = "_sep_"
		}
		pairs = append(append([]string{}, pairs...), separator, name)
	}
	return strings.NewReplacer(pairs...).Replace(part)
}

func (k KeyEncoder) escape(part string) string {
	if k.Escape != nil {
		return k.Escape(part)
	}
	return EscapePart(part, k.sep())
}

// Build joins fixed namespace segments with escaped identifier parts.
func (k KeyEncoder) Build(namespace []string, ids ...string) string {
	segs := make([]string, 0, len(namespace)+len(ids)+1)
	if k.Prefix != "" {
		segs = append(segs, k.Prefix)
	}
	segs = append(segs, namespace...)
	for _, id := range ids {
		segs = append(segs, k.escape(id))
	}
	return strings.Join(segs, k.sep())
}

// JoinParts escapes and joins a composite identifier without any namespace.
// Media with native keys use it for composite names.
func (k KeyEncoder) JoinParts(parts ...string) string {
	return k.Build(nil, parts...)
}

func (k KeyEncoder) User(id string) string {
	return k.Build([]string{segUser}, id)
}

func (k KeyEncoder) UserByEmail(email string) string {
	return k.Build([]string{segUser, segEmail}, email)
}

// Account shares its namespace with AccountsByUser, so a provider named like
// the reserved segment gets a leading "_".
func (k KeyEncoder) Account(ref AccountRef) string {
	provider := ref.Provider
	if provider == segByUserID {
		provider = "_" + provider
	}
	return k.Build([]string{segUser, segAccount}, provider, ref.ProviderAccountID)
}

func (k KeyEncoder) AccountsByUser(userID string) string {
	return k.Build([]string{segUser, segAccount, segByUserID}, userID)
}

func (k KeyEncoder) Session(sessionToken string) string {
	return k.Build([]string{segUser, segSession}, sessionToken)
}

func (k KeyEncoder) SessionsByUser(userID string) string {
	return k.Build([]string{segUser, segSession, segByUserID}, userID)
}

func (k KeyEncoder) VerificationToken(ref VerificationTokenRef) string {
	return k.Build([]string{segUser, segToken}, ref.Identifier, ref.Token)
}

func (k KeyEncoder) Authenticator(credentialID string) string {
	return k.Build([]string{segAuthenticator}, credentialID)
}

func (k KeyEncoder) AuthenticatorsByUser(userID string) string {
	return k.Build([]string{segAuthenticator, segByUserID}, userID)
}

// Namespaced returns a key in an arbitrary namespace, for stores that share
// the medium (session manager blobs, for instance).
func (k KeyEncoder) Namespaced(namespace string, id string) string {
	return k.Build([]string{namespace}, id)
}
